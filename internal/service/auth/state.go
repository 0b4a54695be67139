package auth

type State int32

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}
