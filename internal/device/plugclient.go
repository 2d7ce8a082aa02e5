package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
)

// PlugClient is the per-device RPC surface of a smart plug.
type PlugClient interface {
	DeviceInfo(ctx context.Context) (PlugInfo, error)
	CurrentPower(ctx context.Context) (CurrentPower, error)
	EnergyUsage(ctx context.Context) (EnergyUsage, error)
	CountdownRules(ctx context.Context) (CountdownRules, error)
	ScheduleRules(ctx context.Context) (ScheduleRules, error)
	SetDeviceOn(ctx context.Context, on bool) error
	SetCountdown(ctx context.Context, delay int64, on bool) error
}

// PlugInfo is the subset of get_device_info the relay reports.
type PlugInfo struct {
	DeviceOn    bool   `json:"device_on"`
	OnTime      int64  `json:"on_time"`
	SignalLevel int    `json:"signal_level"`
	RSSI        int    `json:"rssi"`
	Model       string `json:"model"`
	Nickname    string `json:"nickname"`
}

// CurrentPower reports instantaneous draw in milliwatts.
type CurrentPower struct {
	CurrentPower int64 `json:"current_power"`
}

// EnergyUsage reports energy in Wh and runtime in minutes.
type EnergyUsage struct {
	TodayRuntime int64 `json:"today_runtime"`
	MonthRuntime int64 `json:"month_runtime"`
	TodayEnergy  int64 `json:"today_energy"`
	MonthEnergy  int64 `json:"month_energy"`
}

// DesiredStates is the target state a rule applies.
type DesiredStates struct {
	On *bool `json:"on,omitempty"`
}

// CountdownRule is one countdown timer on the plug.
type CountdownRule struct {
	ID            string         `json:"id"`
	Enable        bool           `json:"enable"`
	Delay         int64          `json:"delay"`
	Remain        int64          `json:"remain"`
	DesiredStates *DesiredStates `json:"desired_states,omitempty"`
}

// CountdownRules is the get_countdown_rules result.
type CountdownRules struct {
	Enable   bool            `json:"enable"`
	MaxCount int             `json:"countdown_rule_max_count"`
	Rules    []CountdownRule `json:"rule_list"`
}

// ScheduleRule is one weekly or one-shot schedule entry.
type ScheduleRule struct {
	ID            string         `json:"id"`
	Enable        bool           `json:"enable"`
	WeekDay       int            `json:"week_day"`
	StartMin      int            `json:"s_min"`
	EndMin        int            `json:"e_min"`
	Mode          string         `json:"mode"`
	Day           int            `json:"day"`
	Month         int            `json:"month"`
	Year          int            `json:"year"`
	DesiredStates *DesiredStates `json:"desired_states,omitempty"`
}

// ScheduleRules is the get_schedule_rules result.
type ScheduleRules struct {
	Enable bool           `json:"enable"`
	Rules  []ScheduleRule `json:"rule_list"`
}

// Plug method names.
const (
	methodGetDeviceInfo     = "get_device_info"
	methodGetCurrentPower   = "get_current_power"
	methodGetEnergyUsage    = "get_energy_usage"
	methodGetCountdownRules = "get_countdown_rules"
	methodGetScheduleRules  = "get_schedule_rules"
	methodSetDeviceInfo     = "set_device_info"
	methodAddCountdownRule  = "add_countdown_rule"
	methodEditCountdownRule = "edit_countdown_rule"
)

// countdownRuleParams is the add/edit_countdown_rule payload.
type countdownRuleParams struct {
	ID            string        `json:"id,omitempty"`
	Delay         int64         `json:"delay"`
	DesiredStates DesiredStates `json:"desired_states"`
	Enable        bool          `json:"enable"`
}

// appPath is the plug's method endpoint.
const appPath = "/app"

type plugRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type plugResponse struct {
	ErrorCode int             `json:"error_code"`
	Result    json.RawMessage `json:"result"`
	Msg       string          `json:"msg,omitempty"`
}

// HTTPPlugClient calls plug methods as JSON over HTTP.
// Credentials are sent with basic auth on every request.
type HTTPPlugClient struct {
	baseURL     string
	credentials config.CredentialsConfig
	httpClient  *http.Client
}

// NewHTTPPlugClient creates a client for the plug at address.
// An address without a scheme is treated as http://address.
func NewHTTPPlugClient(address string, creds config.CredentialsConfig, httpClient *http.Client) *HTTPPlugClient {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &HTTPPlugClient{
		baseURL:     strings.TrimRight(base, "/"),
		credentials: creds,
		httpClient:  httpClient,
	}
}

// DeviceInfo calls get_device_info.
func (c *HTTPPlugClient) DeviceInfo(ctx context.Context) (PlugInfo, error) {
	var info PlugInfo
	err := c.call(ctx, methodGetDeviceInfo, nil, &info)
	return info, err
}

// CurrentPower calls get_current_power.
func (c *HTTPPlugClient) CurrentPower(ctx context.Context) (CurrentPower, error) {
	var p CurrentPower
	err := c.call(ctx, methodGetCurrentPower, nil, &p)
	return p, err
}

// EnergyUsage calls get_energy_usage.
func (c *HTTPPlugClient) EnergyUsage(ctx context.Context) (EnergyUsage, error) {
	var u EnergyUsage
	err := c.call(ctx, methodGetEnergyUsage, nil, &u)
	return u, err
}

// CountdownRules calls get_countdown_rules.
func (c *HTTPPlugClient) CountdownRules(ctx context.Context) (CountdownRules, error) {
	var r CountdownRules
	err := c.call(ctx, methodGetCountdownRules, map[string]int{"start_index": 0}, &r)
	return r, err
}

// ScheduleRules calls get_schedule_rules.
func (c *HTTPPlugClient) ScheduleRules(ctx context.Context) (ScheduleRules, error) {
	var r ScheduleRules
	err := c.call(ctx, methodGetScheduleRules, map[string]int{"start_index": 0}, &r)
	return r, err
}

// SetDeviceOn calls set_device_info with the desired relay state.
func (c *HTTPPlugClient) SetDeviceOn(ctx context.Context, on bool) error {
	return c.call(ctx, methodSetDeviceInfo, map[string]bool{"device_on": on}, nil)
}

// SetCountdown arms the plug to switch to on after delay seconds.
// The plug keeps a single countdown rule, so an existing rule is edited
// in place. A delay of zero disables it.
func (c *HTTPPlugClient) SetCountdown(ctx context.Context, delay int64, on bool) error {
	rules, err := c.CountdownRules(ctx)
	if err != nil {
		return err
	}

	params := countdownRuleParams{
		Delay:         delay,
		DesiredStates: DesiredStates{On: &on},
		Enable:        delay > 0,
	}
	if len(rules.Rules) > 0 {
		params.ID = rules.Rules[0].ID
		return c.call(ctx, methodEditCountdownRule, params, nil)
	}
	if delay <= 0 {
		return nil
	}
	return c.call(ctx, methodAddCountdownRule, params, nil)
}

// call posts one method request and decodes result into out (if non-nil).
func (c *HTTPPlugClient) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(plugRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshalling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+appPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.credentials.Username != "" {
		req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256)) //nolint:errcheck // best-effort error context
		return fmt.Errorf("%w: %s returned status %d: %s", ErrPlugRequest, method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var envelope plugResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if envelope.ErrorCode != 0 {
		return fmt.Errorf("%w: %s error_code %d %s", ErrPlugRequest, method, envelope.ErrorCode, envelope.Msg)
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}
