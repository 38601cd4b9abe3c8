package config

import (
	"fmt"
	"strings"
)

const (
	BackendProcedural = "procedural"
	BackendRemote     = "remote"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendProcedural
	}
	switch backend {
	case BackendProcedural, BackendRemote:
		return backend, nil
	case "local":
		return BackendProcedural, nil
	case "ws", "websocket":
		return BackendRemote, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s)",
			raw,
			BackendProcedural,
			BackendRemote,
		)
	}
}
