package http11

import "testing"

func TestParseMethodID(t *testing.T) {
	known := map[string]uint8{
		"GET":     MethodGET,
		"POST":    MethodPOST,
		"PUT":     MethodPUT,
		"DELETE":  MethodDELETE,
		"PATCH":   MethodPATCH,
		"HEAD":    MethodHEAD,
		"OPTIONS": MethodOPTIONS,
		"CONNECT": MethodCONNECT,
		"TRACE":   MethodTRACE,
	}
	for method, want := range known {
		if got := ParseMethodID([]byte(method)); got != want {
			t.Errorf("ParseMethodID(%s) = %d, want %d", method, got, want)
		}
		if got := MethodString(want); got != method {
			t.Errorf("MethodString(%d) = %q, want %q", want, got, method)
		}
	}

	for _, unknown := range []string{"", "get", "FETCH", "GETT", "PROPFIND"} {
		if got := ParseMethodID([]byte(unknown)); got != MethodUnknown {
			t.Errorf("ParseMethodID(%q) = %d, want MethodUnknown", unknown, got)
		}
	}
	if MethodString(MethodUnknown) != "" {
		t.Error("MethodString(MethodUnknown) should be empty")
	}
}

func TestUnknownMethodParses(t *testing.T) {
	// Unknown tokens survive parsing; routing decides their fate.
	req := parseAll(t, "PROPFIND /dav HTTP/1.1\r\n\r\n", 1024)
	defer PutRequest(req)
	if req.MethodID != MethodUnknown {
		t.Errorf("method ID = %d, want MethodUnknown", req.MethodID)
	}
	if req.Method() != "PROPFIND" {
		t.Errorf("method = %q, want PROPFIND", req.Method())
	}
}
