package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultCryptoURL is the CoinGecko API endpoint.
const DefaultCryptoURL = "https://api.coingecko.com"

// coinAliases maps common names and tickers to CoinGecko IDs.
var coinAliases = map[string]string{
	"btc":      "bitcoin",
	"bitcoin":  "bitcoin",
	"eth":      "ethereum",
	"ethereum": "ethereum",
	"sol":      "solana",
	"solana":   "solana",
	"doge":     "dogecoin",
	"dogecoin": "dogecoin",
	"xmr":      "monero",
	"monero":   "monero",
}

// Crypto answers spot-price questions via CoinGecko's simple price API.
type Crypto struct {
	baseURL    string
	httpClient *http.Client
	triggers   []Trigger
}

// CryptoOption configures the crypto skill.
type CryptoOption func(*Crypto)

// WithCryptoBaseURL overrides the CoinGecko endpoint.
func WithCryptoBaseURL(url string) CryptoOption {
	return func(c *Crypto) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithCryptoHTTPClient sets a custom HTTP client.
func WithCryptoHTTPClient(client *http.Client) CryptoOption {
	return func(c *Crypto) { c.httpClient = client }
}

// NewCrypto creates the crypto price skill.
func NewCrypto(opts ...CryptoOption) *Crypto {
	keywords := make([]string, 0, len(coinAliases))
	for alias := range coinAliases {
		keywords = append(keywords, alias)
	}

	c := &Crypto{
		baseURL:    DefaultCryptoURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		triggers: []Trigger{
			{Type: TriggerKeyword, Keywords: keywords},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Crypto) Name() string        { return "crypto" }
func (c *Crypto) Triggers() []Trigger { return c.triggers }

// Run looks up the USD price of the first coin mentioned in the message.
func (c *Crypto) Run(ctx context.Context, message string) (string, error) {
	coin := firstCoin(message)
	if coin == "" {
		return "", fmt.Errorf("no known coin in %q", message)
	}

	u := c.baseURL + "/api/v3/simple/price?ids=" + coin + "&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("price lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("price service returned %d", resp.StatusCode)
	}

	var prices map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return "", fmt.Errorf("price lookup: %w", err)
	}

	entry, ok := prices[coin]
	if !ok {
		return "", fmt.Errorf("no price for %s", coin)
	}
	return fmt.Sprintf("%s: $%.2f", coin, entry.USD), nil
}

// firstCoin returns the CoinGecko ID of the first aliased coin in the
// message.
func firstCoin(message string) string {
	for _, word := range strings.Fields(strings.ToLower(message)) {
		word = strings.Trim(word, "?!.,$")
		if id, ok := coinAliases[word]; ok {
			return id
		}
	}
	return ""
}
