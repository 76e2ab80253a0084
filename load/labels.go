package load

const (
	SessionLabel = "session"
)
