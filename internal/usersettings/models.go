package usersettings

// UserSettings carries the per-user dialing budget and telephony credentials.
// MaxConcurrentCalls is a user-level resource spanning all of that user's
// outbound campaigns; the scheduler re-reads it on every processing pass so
// operator changes take effect without restart.

const DefaultMaxConcurrentCalls = 1

// Credentials are provider-specific secrets, keyed by provider tag in
// UserSettings.Telephony. Field use varies by provider:
//   - twilio: AccountID = Account SID, AuthToken = auth token
//   - plivo:  AccountID = Auth ID, AuthToken = auth token
//   - telnyx: APIKey = API key, AccountID = Call Control connection id
type Credentials struct {
	AccountID string `json:"account_id,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

func (c Credentials) Empty() bool {
	return c.AccountID == "" && c.AuthToken == "" && c.APIKey == ""
}

type UserSettings struct {
	UserID             string                 `json:"user_id"`
	MaxConcurrentCalls int                    `json:"max_concurrent_calls"`
	Telephony          map[string]Credentials `json:"telephony,omitempty"`
}

// CredentialsFor returns the user's credentials for a provider tag.
func (u UserSettings) CredentialsFor(provider string) (Credentials, bool) {
	c, ok := u.Telephony[provider]
	if !ok || c.Empty() {
		return Credentials{}, false
	}
	return c, true
}
