package domain

// Identity is the authenticated sender resolved by the gateway. It is
// passed through internal call boundaries as a value; nothing past the
// gateway re-derives it from request headers.
type Identity struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserImage string `json:"userImage,omitempty"`
}

func (i Identity) Valid() bool {
	return i.UserID != "" && i.UserName != ""
}
