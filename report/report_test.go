package report

import "testing"

func TestReportJSON(t *testing.T) {
	r := &Report{
		ID:            "rep-1",
		PageID:        "page-1",
		Mode:          "ct",
		HTMLHash:      HashHTML([]byte("<p>hello world</p>")),
		RootSignature: "v0:ct:abc",
		Nodes: []NodeSignature{
			{XPath: "/html/body/p", Tag: "p", Signature: "v0:ct:abc", TextLen: 11},
		},
		Timestamp: 1708700000000,
	}

	data, err := MarshalReport(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalReport(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.RootSignature != r.RootSignature || got.Mode != r.Mode {
		t.Errorf("got %+v", got)
	}
	if len(got.Nodes) != 1 || got.Nodes[0].TextLen != 11 {
		t.Errorf("Nodes: got %+v", got.Nodes)
	}
}

func TestReportIndex(t *testing.T) {
	r := &Report{Nodes: []NodeSignature{
		{XPath: "/html/body/p[1]", Signature: "a"},
		{XPath: "/html/body/p[2]", Signature: "b"},
	}}
	idx := r.Index()
	if len(idx) != 2 || idx["/html/body/p[2]"].Signature != "b" {
		t.Errorf("Index: got %+v", idx)
	}
}

func TestDeltaEmpty(t *testing.T) {
	d := &Delta{Unchanged: 4}
	if !d.Empty() {
		t.Error("delta with only unchanged nodes should be empty")
	}
	d.Moved = []Move{{Signature: "s", From: "/a", To: "/b"}}
	if d.Empty() {
		t.Error("delta with a move should not be empty")
	}
}

func TestHashHTML(t *testing.T) {
	// SHA-256 of the empty string.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashHTML(nil); got != empty {
		t.Errorf("HashHTML(nil): got %q", got)
	}
}
