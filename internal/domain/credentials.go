package domain

import "go.uber.org/zap/zapcore"

const redacted = "[redacted]"

// String renders the profile for diagnostics with the secret redacted.
func (c Credentials) String() string {
	out := "credentials{account=" + c.AccountID + " username=" + c.Username
	if c.ProfileLabel != "" {
		out += " profile=" + c.ProfileLabel
	}
	if c.Secret != "" {
		out += " secret=" + redacted
	}
	return out + "}"
}

// MarshalLogObject lets a Credentials value be attached to a zap entry
// without ever emitting the secret.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("account", c.AccountID)
	enc.AddString("username", c.Username)
	if c.ProfileLabel != "" {
		enc.AddString("profile", c.ProfileLabel)
	}
	enc.AddBool("hasSecret", c.Secret != "")
	return nil
}
