package config

import (
	"strconv"

	"github.com/joho/godotenv"

	"github.com/avivsh/polystrat/pkg/types"
)

// Credentials holds one account's venue credentials, loaded from a
// key=value file passed with --env. FunderAddress selects proxy-wallet
// signing when present; otherwise the account signs as a raw EOA.
type Credentials struct {
	APIKey        string
	APISecret     string
	APIPassphrase string
	PrivateKey    string
	FunderAddress string
	CLOBURL       string
	ChainID       int64

	// Cross-platform
	SecondaryVenueAPIKey string

	// Optional semantic matching
	OpenAIAPIKey string
	GeminiAPIKey string

	// Per-leg fee/slippage override
	DefaultSlippage float64

	// Source path, used to label the runtime in logs.
	Path string
}

// ProxyMode reports whether orders are signed through a proxy wallet.
func (c *Credentials) ProxyMode() bool {
	return c.FunderAddress != ""
}

// LLMKey returns whichever matcher API key is configured.
func (c *Credentials) LLMKey() string {
	if c.OpenAIAPIKey != "" {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

// LoadCredentials reads an account credential file. A missing private key
// is a configuration error; everything else is optional.
func LoadCredentials(path string) (*Credentials, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, &types.ConfigurationError{Field: path, Reason: err.Error()}
	}

	creds := &Credentials{
		APIKey:               values["API_KEY"],
		APISecret:            values["API_SECRET"],
		APIPassphrase:        values["API_PASSPHRASE"],
		PrivateKey:           values["PRIVATE_KEY"],
		FunderAddress:        values["FUNDER_ADDRESS"],
		CLOBURL:              values["CLOB_URL"],
		SecondaryVenueAPIKey: values["SECONDARY_VENUE_API_KEY"],
		OpenAIAPIKey:         values["OPENAI_API_KEY"],
		GeminiAPIKey:         values["GEMINI_API_KEY"],
		ChainID:              137,
		DefaultSlippage:      0.01,
		Path:                 path,
	}

	if raw := values["CHAIN_ID"]; raw != "" {
		chainID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &types.ConfigurationError{Field: "CHAIN_ID", Reason: "not an integer"}
		}
		creds.ChainID = chainID
	}

	if raw := values["DEFAULT_SLIPPAGE"]; raw != "" {
		slippage, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &types.ConfigurationError{Field: "DEFAULT_SLIPPAGE", Reason: "not a number"}
		}
		creds.DefaultSlippage = slippage
	}

	if creds.PrivateKey == "" {
		return nil, &types.ConfigurationError{Field: "PRIVATE_KEY", Reason: "missing in " + path}
	}

	return creds, nil
}
