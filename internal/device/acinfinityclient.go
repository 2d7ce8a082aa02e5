package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
)

// DefaultACInfinityURL is the AC Infinity cloud API host.
const DefaultACInfinityURL = "http://www.acinfinityserver.com"

// AC Infinity API paths.
const (
	acPathLogin        = "/api/user/appUserLogin"
	acPathDeviceList   = "/api/user/devInfoListAll"
	acPathModeSettings = "/api/dev/getdevModeSettingList"
	acPathAddMode      = "/api/dev/addDevMode"
)

// AC Infinity response codes.
const (
	acCodeOK          = 200
	acCodeInvalidAuth = 10001
)

// Port modes. A port at level zero is switched off.
const (
	acModeOff = 1
	acModeOn  = 2
)

// ACMaxLevel is the highest port output level.
const ACMaxLevel = 10

const (
	acAppVersion = "1.9.7"
	acUserAgent  = "ACController/1.9.7 (com.acinfinity.humiture; build:533; iOS 18.5.0) Alamofire/5.10.2"
)

// acSettingsBlocklist names mode settings that are never echoed back.
var acSettingsBlocklist = map[string]bool{
	"devId":      true,
	"port":       true,
	"mode":       true,
	"speak":      true,
	"devName":    true,
	"deviceInfo": true,
	"devType":    true,
	"macAddr":    true,
}

// ACInfinityClient is the cloud API surface of an AC Infinity account.
type ACInfinityClient interface {
	Controllers(ctx context.Context) ([]ACController, error)
	SetPortLevel(ctx context.Context, devID string, port, level int) error
}

// acID accepts identifiers sent as either JSON strings or numbers.
type acID string

func (id *acID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = acID(s)
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	*id = acID(data)
	return nil
}

// ACSensors holds controller sensor values scaled by 100.
type ACSensors struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	VPDNums     *float64 `json:"vpdnums"`
	Ports       []ACPort `json:"ports"`
}

// ACController is one controller from devInfoListAll. Older firmware
// reports sensors at the top level instead of under deviceInfo.
type ACController struct {
	DevID       acID       `json:"devId"`
	DevName     string     `json:"devName"`
	DeviceInfo  *ACSensors `json:"deviceInfo"`
	DevSettings *ACSensors `json:"devSettings"`
	DevPortList []ACPort   `json:"devPortList"`
	ACSensors
}

// ACPort is one controller output.
type ACPort struct {
	Port        int      `json:"port"`
	PortID      int      `json:"portId"`
	PortName    string   `json:"portName"`
	Speak       *float64 `json:"speak"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// Number returns the port number.
func (p ACPort) Number() int {
	if p.Port != 0 {
		return p.Port
	}
	return p.PortID
}

// Label returns the port name, or portN when unnamed.
func (p ACPort) Label() string {
	if p.PortName != "" {
		return p.PortName
	}
	return "port" + strconv.Itoa(p.Number())
}

// Name returns the controller name, or device-<id> when unnamed.
func (c ACController) Name() string {
	if c.DevName != "" {
		return c.DevName
	}
	return "device-" + string(c.DevID)
}

func (c ACController) info() *ACSensors {
	if c.DeviceInfo != nil {
		return c.DeviceInfo
	}
	return &c.ACSensors
}

// Sensors merges deviceInfo with devSettings, preferring deviceInfo.
func (c ACController) Sensors() ACSensors {
	info := c.info()
	settings := c.DevSettings
	if settings == nil {
		settings = info
	}
	return ACSensors{
		Temperature: firstSet(info.Temperature, settings.Temperature),
		Humidity:    firstSet(info.Humidity, settings.Humidity),
		VPDNums:     firstSet(info.VPDNums, settings.VPDNums),
	}
}

// PortList returns the controller outputs.
func (c ACController) PortList() []ACPort {
	if ports := c.info().Ports; len(ports) > 0 {
		return ports
	}
	return c.DevPortList
}

func firstSet(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

type acResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type acLogin struct {
	AppID acID `json:"appId"`
}

// HTTPACInfinityClient talks to the AC Infinity cloud with form posts.
// It logs in lazily and again after any failed request.
type HTTPACInfinityClient struct {
	baseURL     string
	credentials config.CredentialsConfig
	httpClient  *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPACInfinityClient creates a client for the account in creds.
// An empty baseURL uses DefaultACInfinityURL.
func NewHTTPACInfinityClient(baseURL string, creds config.CredentialsConfig, httpClient *http.Client) *HTTPACInfinityClient {
	if baseURL == "" {
		baseURL = DefaultACInfinityURL
	}
	return &HTTPACInfinityClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		httpClient:  httpClient,
	}
}

// Controllers lists every controller on the account.
func (c *HTTPACInfinityClient) Controllers(ctx context.Context) ([]ACController, error) {
	token, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	var controllers []ACController
	form := url.Values{"userId": {token}}
	if err := c.post(ctx, acPathDeviceList, form, nil, token, &controllers); err != nil {
		c.logout()
		return nil, err
	}
	return controllers, nil
}

// SetPortLevel sets one port to level, clamped to 0..ACMaxLevel.
// The port's current mode settings are fetched first and echoed back.
func (c *HTTPACInfinityClient) SetPortLevel(ctx context.Context, devID string, port, level int) error {
	token, err := c.login(ctx)
	if err != nil {
		return err
	}

	err = c.setPortLevel(ctx, token, devID, port, level)
	if err != nil {
		c.logout()
	}
	return err
}

func (c *HTTPACInfinityClient) setPortLevel(ctx context.Context, token, devID string, port, level int) error {
	portStr := strconv.Itoa(port)

	var settings map[string]any
	form := url.Values{"devId": {devID}, "port": {portStr}}
	if err := c.post(ctx, acPathModeSettings, form, nil, token, &settings); err != nil {
		return err
	}
	if settings == nil {
		return fmt.Errorf("%w: no mode settings for %s port %d", ErrACInfinityRequest, devID, port)
	}

	level = max(0, min(ACMaxLevel, level))
	mode, speak, onSpeed := acModeOn, level, level
	if level == 0 {
		mode, speak, onSpeed = acModeOff, 0, ACMaxLevel
	}

	query := url.Values{
		"userId":  {token},
		"devId":   {devID},
		"port":    {portStr},
		"mode":    {strconv.Itoa(mode)},
		"speak":   {strconv.Itoa(speak)},
		"atType":  {strconv.Itoa(mode)},
		"onSpead": {strconv.Itoa(onSpeed)},
	}
	for key, val := range settings {
		if acSettingsBlocklist[key] || query.Has(key) {
			continue
		}
		if s, ok := scalarString(val); ok {
			query.Set(key, s)
		}
	}
	for _, key := range []string{"surplus", "backup", "transitionType"} {
		if !query.Has(key) {
			query.Set(key, "0")
		}
	}

	return c.post(ctx, acPathAddMode, nil, query, token, nil)
}

// scalarString renders a JSON scalar as a form value.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (c *HTTPACInfinityClient) login(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var login acLogin
	form := url.Values{
		"appEmail":     {c.credentials.Username},
		"appPasswordl": {c.credentials.Password},
	}
	if err := c.post(ctx, acPathLogin, form, nil, "", &login); err != nil {
		return "", err
	}
	if login.AppID == "" {
		return "", fmt.Errorf("%w: login returned no app id", ErrACInfinityAuth)
	}
	c.token = string(login.AppID)
	return c.token, nil
}

func (c *HTTPACInfinityClient) logout() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// post sends form as the body and query in the URL, then decodes data
// into out (if non-nil).
func (c *HTTPACInfinityClient) post(ctx context.Context, path string, form, query url.Values, token string, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("User-Agent", acUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	if token != "" {
		req.Header.Set("token", token)
		req.Header.Set("phoneType", "1")
		req.Header.Set("appVersion", acAppVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := body[:min(len(body), 256)]
		return fmt.Errorf("%w: %s returned status %d: %s", ErrACInfinityRequest, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var envelope acResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	switch envelope.Code {
	case acCodeOK:
	case acCodeInvalidAuth:
		return fmt.Errorf("%w: %s", ErrACInfinityAuth, envelope.Msg)
	default:
		return fmt.Errorf("%w: %s code %d %s", ErrACInfinityRequest, path, envelope.Code, envelope.Msg)
	}

	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decoding %s data: %w", path, err)
	}
	return nil
}
