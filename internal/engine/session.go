package engine

// Session is the account state the engine acts for. Only the engine loop
// reads or writes it.
type Session struct {
	accessToken string
	e2eeSecret  string
	accountIden string
	key         []byte
}

// Dormant reports whether the engine has no account to sync.
func (s Session) Dormant() bool {
	return s.accessToken == ""
}

func (s Session) e2eeReady() bool {
	return len(s.key) > 0
}
