package csg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Credential identifies one vendor login. It is call-scoped: the client
// never stores it beyond the duration of an Authenticate call.
type Credential struct {
	AreaCode  string // vendor service region, e.g. "030000"
	AccountID string // login account, a phone number
	Password  string
	// VerificationCode is the SMS one-time code. Leave empty unless a
	// previous Authenticate returned ErrCaptchaRequired.
	VerificationCode string
}

// ClientConfig holds construction-time options for a Client. Channel is
// fixed for the client's lifetime.
type ClientConfig struct {
	BaseURL   string
	Channel   Channel
	AreaCode  string        // fallback region for login payloads
	Timeout   time.Duration // per-call timeout
	RateLimit float64       // outbound requests per second, 0 = unlimited
	RateBurst int
}

// Client talks to the vendor's HTTP surface. All data operations route
// through Call so that session-expiry detection stays in one place.
// The only mutable shared state is the session, guarded by mu.
type Client struct {
	http    *http.Client
	codec   *Codec
	logger  *logrus.Logger
	limiter *rate.Limiter

	baseURL  string
	channel  Channel
	areaCode string

	mu         sync.RWMutex
	session    Session
	custNumber string
	authGen    uint64 // bumped on every successful login

	// authMu serializes authentication attempts: at most one login is
	// in flight per client, concurrent callers observe its result.
	authMu sync.Mutex

	now func() time.Time
}

// NewClient builds a client bound to one channel.
func NewClient(cfg ClientConfig, codec *Codec, logger *logrus.Logger) (*Client, error) {
	if codec == nil {
		return nil, errors.New("csg: codec is required")
	}
	if !cfg.Channel.valid() {
		return nil, fmt.Errorf("csg: unknown channel %q", cfg.Channel)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("csg: invalid base url: %w", err)
	}
	if cfg.AreaCode == "" {
		cfg.AreaCode = DefaultAreaCodes["guangdong"]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		codec:    codec,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, burst),
		baseURL:  cfg.BaseURL,
		channel:  cfg.Channel,
		areaCode: cfg.AreaCode,
		now:      time.Now,
	}, nil
}

// Channel reports which API surface this client is bound to.
func (c *Client) Channel() Channel { return c.channel }

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// RestoreSession installs a previously persisted session. The session's
// channel must match the client's; a session never migrates channels.
func (c *Client) RestoreSession(s Session) error {
	if s.Channel != c.channel {
		return fmt.Errorf("csg: session channel %q does not match client channel %q", s.Channel, c.channel)
	}
	if s.Token == "" {
		return errors.New("csg: cannot restore empty session")
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return nil
}

// InvalidateSession drops the session explicitly. Sessions are never
// silently dropped anywhere else.
func (c *Client) InvalidateSession() {
	c.mu.Lock()
	c.session = Session{}
	c.custNumber = ""
	c.mu.Unlock()
}

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	c.session = s
	c.authGen++
	c.mu.Unlock()
}

func (c *Client) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authGen
}

// SendLoginSMS asks the vendor to text a login verification code to the
// given phone number. Needed before Authenticate when the account
// demands a one-time code.
func (c *Client) SendLoginSMS(ctx context.Context, phoneNo string) error {
	payload := map[string]any{
		"areaCode":    c.areaCode,
		"phoneNumber": phoneNo,
		"vcType":      verificationCodeTypeLogin,
		"msgType":     sendMsgTypeVerificationCode,
	}
	_, _, err := c.do(ctx, OpSendLoginSMS, payload, false)
	return err
}

// Authenticate logs in with the given credential and installs the
// resulting session. At most one login is in flight per client: callers
// that were waiting while another attempt succeeded get that attempt's
// session instead of issuing their own login.
func (c *Client) Authenticate(ctx context.Context, cred Credential) (Session, error) {
	observed := c.generation()

	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.generation() != observed {
		if s := c.Session(); s.Token != "" {
			c.logger.WithField("channel", c.channel).Debug("login already completed by concurrent caller")
			return s, nil
		}
	}

	areaCode := cred.AreaCode
	if areaCode == "" {
		areaCode = c.areaCode
	}
	encCred, err := c.codec.EncryptCredential(cred.Password)
	if err != nil {
		return Session{}, err
	}

	payload := map[string]any{
		"areaCode":    areaCode,
		"acctId":      cred.AccountID,
		"logonChan":   c.channel.LogonCode(),
		"credType":    credTypePhonePassword,
		"credentials": encCred,
	}
	op := OpLogin
	if c.channel == ChannelApp {
		// The app backend runs a separate login operation that accepts
		// the password together with an optional SMS code.
		op = OpLoginPwdAndMsg
		payload["code"] = cred.VerificationCode
		payload["checkPwd"] = true
	}

	_, header, err := c.do(ctx, op, payload, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Sta {
			case respStaWrongCredential:
				return Session{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
			case respStaNeedVerifyCode:
				return Session{}, fmt.Errorf("%w: %s", ErrCaptchaRequired, apiErr.Message)
			}
		}
		return Session{}, err
	}

	token := header.Get(headerAuthToken)
	if token == "" {
		return Session{}, schemaErr(op, headerAuthToken)
	}

	s := Session{Token: token, Channel: c.channel, AcquiredAt: c.now()}
	c.setSession(s)
	c.logger.WithFields(logrus.Fields{
		"channel": c.channel,
		"acctId":  cred.AccountID,
	}).Info("login succeeded")
	return s, nil
}

type authResultPayload struct {
	CustNumber string `json:"custNumber"`
}

// VerifyLogin issues a lightweight authenticated read to check session
// validity. A server-side rejection returns (false, nil); a transport
// failure returns the error so the caller never confuses "offline"
// with "logged out".
func (c *Client) VerifyLogin(ctx context.Context) (bool, error) {
	var res authResultPayload
	err := c.Call(ctx, OpQueryAuthResult, nil, &res)
	if errors.Is(err, ErrSessionExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if res.CustNumber != "" {
		c.mu.Lock()
		c.custNumber = res.CustNumber
		c.mu.Unlock()
	}
	return true, nil
}

type userInfoPayload struct {
	CustNumber string `json:"custNumber"`
}

// Initialize resolves the customer number bound to the session. The app
// channel sends it as a header on every subsequent call.
func (c *Client) Initialize(ctx context.Context) error {
	var res userInfoPayload
	if err := c.Call(ctx, OpGetUserInfo, nil, &res); err != nil {
		return err
	}
	if res.CustNumber == "" {
		return schemaErr(OpGetUserInfo, "custNumber")
	}
	c.mu.Lock()
	c.custNumber = res.CustNumber
	c.mu.Unlock()
	return nil
}

// Logout tears the session down on the server and clears local state.
func (c *Client) Logout(ctx context.Context) error {
	payload := map[string]any{
		"logonChan": c.channel.LogonCode(),
		"credType":  credTypePhonePassword,
	}
	if _, _, err := c.do(ctx, OpLogout, payload, true); err != nil {
		return err
	}
	c.InvalidateSession()
	return nil
}

// Call executes one data operation: encrypt, send, decrypt, validate,
// and unmarshal the data payload into out (out may be nil when only
// the status matters).
func (c *Client) Call(ctx context.Context, op string, payload any, out any) error {
	resp, _, err := c.do(ctx, op, payload, true)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(resp.Data) == 0 || bytes.Equal(resp.Data, []byte("null")) {
		return schemaErr(op, "data")
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedPayload, err)
	}
	return nil
}

// apiResponse is the decrypted response body shared by every operation.
type apiResponse struct {
	Sta     string          `json:"sta"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// envelope is the transport body on both directions: a single field
// holding base64 symmetric ciphertext.
type envelope struct {
	Param string `json:"param"`
}

// Operations that need extra routing headers on the wire.
var opExtraHeaders = map[string]map[string]string{
	OpLogin:              {"need-crypto": "true"},
	OpLoginPwdAndMsg:     {"need-crypto": "true"},
	OpQueryMeteringPoint: {"funid": "100t002"},
	OpQueryDayElectric:   {"funid": "100t002"},
	OpQueryDayCharge:     {"funid": "100t002"},
}

// do performs one encrypted round-trip. Transport failures are retried
// once; authentication failures never are. Session expiry (sta "04") on
// an authenticated call surfaces as ErrSessionExpired for the caller to
// act on - the client does not re-login on its own.
func (c *Client) do(ctx context.Context, op string, payload any, withAuth bool) (*apiResponse, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := c.codec.Encode(payload)
	if err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(envelope{Param: encoded})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to marshal envelope: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/ucs/ma/%s/%s", c.baseURL, c.channel.pathSegment(), op)
	requestID := uuid.NewString()
	log := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"op":         op,
		"channel":    c.channel,
	})

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		c.setHeaders(req, op, withAuth)

		start := c.now()
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
			log.WithError(err).WithField("attempt", attempt).Warn("transport failure")
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
			log.WithError(err).WithField("attempt", attempt).Warn("failed to read response body")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			log.WithField("status", resp.StatusCode).Error("unexpected http status")
			return nil, nil, &APIError{Sta: fmt.Sprintf("HTTP%d", resp.StatusCode)}
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("%s: %w: body is not an envelope: %v", op, ErrMalformedPayload, err)
		}
		if env.Param == "" {
			return nil, nil, fmt.Errorf("%s: %w: empty envelope", op, ErrMalformedPayload)
		}

		var decoded apiResponse
		if err := c.codec.Decode(env.Param, &decoded); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if decoded.Sta == "" {
			return nil, nil, schemaErr(op, "sta")
		}

		log.WithFields(logrus.Fields{
			"sta":      decoded.Sta,
			"duration": c.now().Sub(start),
		}).Debug("api response")

		switch decoded.Sta {
		case respStaSuccess:
			return &decoded, resp.Header, nil
		case respStaNoLogin:
			if withAuth {
				return nil, nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
			}
			return nil, nil, &APIError{Sta: decoded.Sta, Message: decoded.Message}
		default:
			return nil, nil, &APIError{Sta: decoded.Sta, Message: decoded.Message}
		}
	}
	return nil, nil, lastErr
}

func (c *Client) setHeaders(req *http.Request, op string, withAuth bool) {
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,cn;q=0.9")
	switch c.channel {
	case ChannelApp:
		req.Header.Set("Origin", "file://")
		req.Header.Set("User-Agent",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko)")
	default:
		req.Header.Set("Origin", c.baseURL)
		req.Header.Set("Referer", c.baseURL+"/")
		req.Header.Set("User-Agent",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36")
	}
	for k, v := range opExtraHeaders[op] {
		req.Header.Set(k, v)
	}
	if withAuth {
		c.mu.RLock()
		token, cust := c.session.Token, c.custNumber
		c.mu.RUnlock()
		req.Header.Set(headerAuthToken, token)
		if c.channel == ChannelApp {
			req.Header.Set(headerCustNumber, cust)
		}
	}
}
