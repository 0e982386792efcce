// Package model defines domain entities used by services and repositories.
package model

// Account is a registered identity stored on the server.
type Account struct {
	ID      int64  // PK, assigned by storage
	Email   string // unique
	Name    string // optional display name; "" is stored as NULL
	PwdHash string // password verifier (argon2id PHC string or legacy md5 hex)
}

// SyncHeader is the per-request envelope sent by sync clients.
type SyncHeader struct {
	ProtocolVersion int    `json:"v"`
	SyncKey         string `json:"k"` // session key (host key)
	ClientVersion   string `json:"c"`
	SessionKey      string `json:"s"` // client-chosen session id, observability only
}

// SyncRequest is an authenticated operation request with its decoded payload.
type SyncRequest[T any] struct {
	SyncHeader
	ClientIP string
	Data     T
}

// HostKeyRequest is the login payload.
type HostKeyRequest struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

// HostKeyResponse carries the issued session key.
type HostKeyResponse struct {
	Key string `json:"key"`
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// RegisterResponse reports the registration outcome.
type RegisterResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}
