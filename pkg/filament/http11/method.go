package http11

// ParseMethodID converts an HTTP method token to its numeric ID.
// Returns MethodUnknown for unrecognized methods; callers decide whether
// that is an error.
//
// Length is checked first so each case needs only byte comparisons.
func ParseMethodID(method []byte) uint8 {
	switch len(method) {
	case 3: // GET, PUT
		if method[0] == 'G' && method[1] == 'E' && method[2] == 'T' {
			return MethodGET
		}
		if method[0] == 'P' && method[1] == 'U' && method[2] == 'T' {
			return MethodPUT
		}

	case 4: // POST, HEAD
		if method[0] == 'P' && method[1] == 'O' && method[2] == 'S' && method[3] == 'T' {
			return MethodPOST
		}
		if method[0] == 'H' && method[1] == 'E' && method[2] == 'A' && method[3] == 'D' {
			return MethodHEAD
		}

	case 5: // PATCH, TRACE
		if method[0] == 'P' && method[1] == 'A' && method[2] == 'T' && method[3] == 'C' && method[4] == 'H' {
			return MethodPATCH
		}
		if method[0] == 'T' && method[1] == 'R' && method[2] == 'A' && method[3] == 'C' && method[4] == 'E' {
			return MethodTRACE
		}

	case 6: // DELETE
		if method[0] == 'D' && method[1] == 'E' && method[2] == 'L' &&
			method[3] == 'E' && method[4] == 'T' && method[5] == 'E' {
			return MethodDELETE
		}

	case 7: // OPTIONS, CONNECT
		if method[0] == 'O' && method[1] == 'P' && method[2] == 'T' &&
			method[3] == 'I' && method[4] == 'O' && method[5] == 'N' && method[6] == 'S' {
			return MethodOPTIONS
		}
		if method[0] == 'C' && method[1] == 'O' && method[2] == 'N' &&
			method[3] == 'N' && method[4] == 'E' && method[5] == 'C' && method[6] == 'T' {
			return MethodCONNECT
		}
	}

	return MethodUnknown
}

// MethodString returns the canonical string for a method ID.
// Pre-compiled constants keep this allocation-free.
func MethodString(id uint8) string {
	switch id {
	case MethodGET:
		return "GET"
	case MethodPOST:
		return "POST"
	case MethodPUT:
		return "PUT"
	case MethodDELETE:
		return "DELETE"
	case MethodPATCH:
		return "PATCH"
	case MethodHEAD:
		return "HEAD"
	case MethodOPTIONS:
		return "OPTIONS"
	case MethodCONNECT:
		return "CONNECT"
	case MethodTRACE:
		return "TRACE"
	default:
		return ""
	}
}
