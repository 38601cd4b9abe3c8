package text

import "testing"

func TestSplitList(t *testing.T) {
	got := SplitList(" funk , ,ambient synth,")
	if len(got) != 2 || got[0] != "funk" || got[1] != "ambient synth" {
		t.Errorf("SplitList = %q", got)
	}
	if got := SplitList(""); len(got) != 0 {
		t.Errorf("SplitList(\"\") = %q, want empty", got)
	}
}

func TestParseWeights(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		n       int
		want    []float64
		wantErr bool
	}{
		{name: "defaults to ones", in: "", n: 3, want: []float64{1, 1, 1}},
		{name: "parses list", in: "2.0, 1.0", n: 2, want: []float64{2, 1}},
		{name: "count mismatch", in: "1,2,3", n: 2, wantErr: true},
		{name: "not a number", in: "1,x", n: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWeights(tt.in, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("weight %d = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseWeighted(t *testing.T) {
	tests := []struct {
		in        string
		wantValue string
		wantW     float64
		wantErr   bool
	}{
		{in: "funk", wantValue: "funk", wantW: 1},
		{in: "funk=2", wantValue: "funk", wantW: 2},
		{in: " dark ambient = 0.5 ", wantValue: "dark ambient", wantW: 0.5},
		{in: "a=b=3", wantValue: "a=b", wantW: 3},
		{in: "funk=heavy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, w, err := ParseWeighted(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if v != tt.wantValue || w != tt.wantW {
				t.Errorf("ParseWeighted(%q) = (%q, %f), want (%q, %f)", tt.in, v, w, tt.wantValue, tt.wantW)
			}
		})
	}
}
