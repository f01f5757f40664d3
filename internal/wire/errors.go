package wire

// ParseReason classifies why ParseLine rejected a line. The Hub renders
// it directly into an ERROR reply without inspecting message text, so
// callers should switch on Reason rather than on Error().
type ParseReason int

const (
	ReasonTooLong ParseReason = iota
	ReasonBadCommand
	ReasonBadIdent
	ReasonBadParam
)

// Text is the reason phrase used in "ERROR <reason>" replies.
func (r ParseReason) Text() string {
	switch r {
	case ReasonTooLong:
		return "message too long"
	case ReasonBadCommand:
		return "bad command"
	case ReasonBadIdent:
		return "bad identifier"
	case ReasonBadParam:
		return "bad parameter"
	default:
		return "parse error"
	}
}

// ParseError is returned by ParseLine and NewIdent/ParseUser/ParseRoom.
type ParseError struct {
	Reason ParseReason
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Reason.Text()
	}
	return e.Reason.Text() + ": " + e.Detail
}

func newParseError(reason ParseReason, detail string) *ParseError {
	return &ParseError{Reason: reason, Detail: detail}
}
