package models

// TokenSet is the triple returned by the identity provider's token endpoint.
// It exists only in memory between a provider call and the encrypting upsert.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Valid reports whether the provider returned a usable token pair.
func (t *TokenSet) Valid() bool {
	return t != nil && t.AccessToken != "" && t.RefreshToken != ""
}
