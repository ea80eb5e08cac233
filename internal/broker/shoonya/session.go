// Package shoonya talks to the Finvasia Shoonya (Noren) REST and websocket
// APIs.
package shoonya

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"tradedesk/internal/api"
	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/store"
	"tradedesk/internal/trace"
	"tradedesk/internal/types"
)

const Venue = "shoonya"

var errNoData = errors.New("no data")

// Reads are safe to repeat; orders and auth calls are sent once.
var readOps = map[string]bool{
	"positions": true,
	"limits":    true,
	"orders":    true,
}

type Session struct {
	cfg    store.ShoonyaConfig
	client *api.Client
	retry  *api.RetryConfig

	mu   sync.RWMutex
	sess types.Session
}

var _ interfaces.BrokerSession = (*Session)(nil)

func NewSession(cfg store.ShoonyaConfig, opts ...api.ClientOption) *Session {
	opts = append([]api.ClientOption{
		api.WithBaseURL(cfg.RESTURL),
		api.WithTimeout(cfg.Timeout()),
		api.WithLogging(true),
	}, opts...)
	return &Session{cfg: cfg, client: api.NewClient(opts...), retry: api.DefaultRetryConfig()}
}

// SetRetry replaces the backoff used for read calls.
func (s *Session) SetRetry(rc *api.RetryConfig) {
	s.retry = rc
}

func (s *Session) Venue() string { return Venue }

func (s *Session) Restore(sess types.Session) {
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
}

func (s *Session) current() types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

func sha256Hex(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// Login runs QuickAuth. creds may carry "password" and "totp"; missing
// values fall back to the configured secrets.
func (s *Session) Login(ctx context.Context, creds map[string]string) (types.Session, error) {
	ctx, span := trace.StartVenueSpan(ctx, "shoonya.Login", Venue)
	defer span.End()

	password := firstNonEmpty(creds["password"], s.cfg.Password)
	otp := firstNonEmpty(creds["totp"], s.cfg.TOTP)
	if password == "" || otp == "" {
		return types.Session{}, types.NewAuthError(Venue, "login", "password and TOTP are required")
	}

	payload := map[string]string{
		"apkversion": "1.0.0",
		"uid":        s.cfg.UserID,
		"pwd":        sha256Hex(password),
		"factor2":    otp,
		"vc":         s.cfg.VendorCode,
		"appkey":     sha256Hex(s.cfg.UserID + "|" + s.cfg.APIKey),
		"imei":       s.cfg.IMEI,
		"source":     "API",
	}
	var resp struct {
		Token     string `json:"susertoken"`
		AccountID string `json:"actid"`
		Name      string `json:"uname"`
	}
	if err := s.call(ctx, "login", "/QuickAuth", payload, false, &resp); err != nil {
		// a rejected login is always a credentials problem
		var be *types.BrokerError
		if errors.As(err, &be) && !types.IsAuth(err) && be.Err == nil {
			err = types.NewAuthError(Venue, "login", be.Message)
		}
		trace.Fail(span, err)
		return types.Session{}, err
	}

	sess := types.Session{
		Token:     resp.Token,
		UserID:    s.cfg.UserID,
		AccountID: firstNonEmpty(resp.AccountID, s.cfg.AccountID, s.cfg.UserID),
	}
	s.Restore(sess)
	logger.Info(ctx, "Shoonya login successful", "user", sess.UserID, "name", resp.Name)
	return sess, nil
}

func (s *Session) Logout(ctx context.Context) error {
	sess := s.current()
	if sess.Token == "" {
		return nil
	}
	err := s.call(ctx, "logout", "/Logout", map[string]string{"uid": sess.UserID}, true, nil)
	s.Restore(types.Session{})
	return err
}

// Verify calls Limits, the cheapest authenticated endpoint.
func (s *Session) Verify(ctx context.Context) error {
	_, err := s.FundInfo(ctx)
	return err
}

type position struct {
	Exchange  string `json:"exch"`
	Token     string `json:"token"`
	Symbol    string `json:"tsym"`
	Product   string `json:"prd"`
	NetQty    string `json:"netqty"`
	NetAvg    string `json:"netavgprc"`
	LastPrice string `json:"lp"`
	Realized  string `json:"rpnl"`
	Mult      string `json:"mult"`
	PriceFtr  string `json:"prcftr"`
}

func (p position) normalize() types.Position {
	mult := parseFloat(p.Mult, 1) * parseFloat(p.PriceFtr, 1)
	return types.Position{
		InstrumentID: p.Exchange + "|" + p.Token,
		Symbol:       p.Symbol,
		Exchange:     p.Exchange,
		Product:      p.Product,
		NetQty:       int(parseFloat(p.NetQty, 0)),
		AvgPrice:     parseFloat(p.NetAvg, 0),
		LastPrice:    parseFloat(p.LastPrice, 0),
		RealizedPnL:  parseFloat(p.Realized, 0),
		Multiplier:   mult,
	}
}

func (s *Session) Positions(ctx context.Context) ([]types.Position, error) {
	raw, err := s.positionBook(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.normalize())
	}
	return out, nil
}

func (s *Session) positionBook(ctx context.Context) ([]position, error) {
	sess := s.current()
	var raw []position
	err := s.call(ctx, "positions", "/PositionBook", accountPayload(sess), true, &raw)
	if errors.Is(err, errNoData) {
		return nil, nil
	}
	return raw, err
}

func (s *Session) FundInfo(ctx context.Context) (types.FundInfo, error) {
	sess := s.current()
	var resp struct {
		Cash       string `json:"cash"`
		PayIn      string `json:"payin"`
		MarginUsed string `json:"marginused"`
	}
	if err := s.call(ctx, "limits", "/Limits", accountPayload(sess), true, &resp); err != nil {
		return types.FundInfo{}, err
	}
	cash := parseFloat(resp.Cash, 0) + parseFloat(resp.PayIn, 0)
	used := parseFloat(resp.MarginUsed, 0)
	return types.FundInfo{
		OpenBalance: parseFloat(resp.Cash, 0),
		Available:   cash - used,
		MarginUsed:  used,
	}, nil
}

type order struct {
	OrderID string `json:"norenordno"`
	Symbol  string `json:"tsym"`
	Side    string `json:"trantype"`
	Status  string `json:"status"`
	Reason  string `json:"rejreason"`
}

// TradeCount is the number of completed orders today.
func (s *Session) TradeCount(ctx context.Context) (int, error) {
	sess := s.current()
	var orders []order
	err := s.call(ctx, "orders", "/OrderBook", map[string]string{"uid": sess.UserID}, true, &orders)
	if errors.Is(err, errNoData) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range orders {
		if normalizeStatus(o.Status) == types.OrderComplete {
			n++
		}
	}
	return n, nil
}

// CloseAllPositions squares off every open position at market.
func (s *Session) CloseAllPositions(ctx context.Context) error {
	ctx, span := trace.StartVenueSpan(ctx, "shoonya.CloseAllPositions", Venue)
	defer span.End()

	raw, err := s.positionBook(ctx)
	if err != nil {
		trace.Fail(span, err)
		return err
	}
	sess := s.current()

	var errs []error
	for _, p := range raw {
		qty := int(parseFloat(p.NetQty, 0))
		if qty == 0 {
			continue
		}
		side := "S"
		if qty < 0 {
			side = "B"
		}
		payload := map[string]string{
			"uid":         sess.UserID,
			"actid":       sess.AccountID,
			"exch":        p.Exchange,
			"tsym":        p.Symbol,
			"qty":         strconv.Itoa(int(math.Abs(float64(qty)))),
			"prc":         "0",
			"prd":         p.Product,
			"trantype":    side,
			"prctyp":      "MKT",
			"ret":         "DAY",
			"ordersource": "API",
		}
		var resp struct {
			OrderID string `json:"norenordno"`
		}
		if err := s.call(ctx, "placeOrder", "/PlaceOrder", payload, true, &resp); err != nil {
			errs = append(errs, fmt.Errorf("square off %s: %w", p.Symbol, err))
			continue
		}
		logger.Order(ctx, Venue, resp.OrderID, "PLACED", "symbol", p.Symbol, "side", side, "qty", qty)
	}
	if err := errors.Join(errs...); err != nil {
		trace.Fail(span, err)
		return err
	}
	return nil
}

func accountPayload(sess types.Session) map[string]string {
	return map[string]string{"uid": sess.UserID, "actid": sess.AccountID}
}

// call posts jData (and jKey when withKey) and decodes a successful reply
// into out. Noren answers failures as {"stat":"Not_Ok","emsg":...}.
func (s *Session) call(ctx context.Context, op, path string, payload any, withKey bool, out any) error {
	jData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	form := url.Values{"jData": {string(jData)}}
	if withKey {
		token := s.current().Token
		if token == "" {
			return types.NewAuthError(Venue, op, "not logged in")
		}
		form.Set("jKey", token)
	}

	req := api.PostForm(ctx, path, form)
	var resp *api.Response
	if readOps[op] {
		resp, err = s.client.DoWithRetry(req, s.retry)
	} else {
		resp, err = s.client.Do(req)
	}
	var body []byte
	if resp != nil {
		body = bytes.TrimSpace(resp.Body)
	}
	if err != nil && len(body) == 0 {
		return types.NewBrokerError(Venue, op, "", err)
	}

	if len(body) > 0 && body[0] == '{' {
		var status struct {
			Stat string `json:"stat"`
			Emsg string `json:"emsg"`
		}
		if jerr := json.Unmarshal(body, &status); jerr == nil && status.Stat == "Not_Ok" {
			return classify(op, status.Emsg)
		}
	}
	if err != nil {
		return types.NewBrokerError(Venue, op, "", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.NewBrokerError(Venue, op, "unexpected response", err)
	}
	return nil
}

func classify(op, emsg string) error {
	lower := strings.ToLower(emsg)
	switch {
	case strings.Contains(lower, "no data"):
		return errNoData
	case strings.Contains(lower, "session expired"), strings.Contains(lower, "invalid session key"):
		return types.NewAuthError(Venue, op, emsg)
	}
	return types.NewBrokerError(Venue, op, emsg, nil)
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
