package apiclient

// StatusClass is the band an HTTP status code falls in.
type StatusClass int

const (
	StatusUnknown StatusClass = iota
	StatusInformational
	StatusSuccess
	StatusRedirection
	StatusClientError
	StatusServerError
)

// ClassOf maps a status code to its band.
func ClassOf(code int) StatusClass {
	switch {
	case code >= 100 && code <= 199:
		return StatusInformational
	case code >= 200 && code <= 299:
		return StatusSuccess
	case code >= 300 && code <= 399:
		return StatusRedirection
	case code >= 400 && code <= 499:
		return StatusClientError
	case code >= 500 && code <= 599:
		return StatusServerError
	default:
		return StatusUnknown
	}
}

// IsError is true for 400..599 inclusive.
func (c StatusClass) IsError() bool {
	return c == StatusClientError || c == StatusServerError
}

func (c StatusClass) String() string {
	switch c {
	case StatusInformational:
		return "1xx"
	case StatusSuccess:
		return "2xx"
	case StatusRedirection:
		return "3xx"
	case StatusClientError:
		return "4xx"
	case StatusServerError:
		return "5xx"
	default:
		return "unknown"
	}
}
