package domain

// SessionState is the lifecycle position of one participant session.
type SessionState int

const (
	StateInit SessionState = iota
	StateResolvingIdentity
	StateJoining
	StateActive
	StateLeaving
	StateLeft
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateResolvingIdentity:
		return "RESOLVING_IDENTITY"
	case StateJoining:
		return "JOINING"
	case StateActive:
		return "ACTIVE"
	case StateLeaving:
		return "LEAVING"
	case StateLeft:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether a start sequence is running or has completed.
func (s SessionState) Busy() bool {
	return s == StateResolvingIdentity || s == StateJoining || s == StateActive
}

// SubscriptionTarget names what a subscription observes.
type SubscriptionTarget string

const (
	TargetMembers  SubscriptionTarget = "members"
	TargetMessages SubscriptionTarget = "messages"
)

type Subscription struct {
	Target SubscriptionTarget
	Room   RoomID
	Active bool
}
