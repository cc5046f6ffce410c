package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
)

const footer = "mssql-warehouse-loader"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// RunStarted sends notification when a run starts loading tables
func (n *Notifier) RunStarted(runID, source, warehouse string, tableCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{{
			Color: "#36a64f",
			Title: "Warehouse Load Started",
			Fields: []SlackField{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
				{Title: "Source", Value: source, Short: true},
				{Title: "Warehouse", Value: warehouse, Short: true},
			},
			Footer:    footer,
			Timestamp: time.Now().Unix(),
		}},
	})
}

// RunFinished sends the run summary
func (n *Notifier) RunFinished(r RunReport) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(n.summaryMessage(r))
}

func (n *Notifier) summaryMessage(r RunReport) SlackMessage {
	throughput := int64(0)
	if secs := r.Duration.Seconds(); secs > 0 {
		throughput = int64(float64(r.Rows) / secs)
	}

	fields := []SlackField{
		{Title: "Run ID", Value: r.RunID, Short: true},
		{Title: "Started", Value: r.Started.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
		{Title: "Duration", Value: formatDuration(r.Duration), Short: true},
		{Title: "Tables", Value: fmt.Sprintf("%d attempted, %d succeeded, %d failed", r.Attempted, r.Succeeded, r.Failed), Short: false},
		{Title: "Total Rows", Value: formatNumberWithCommas(r.Rows), Short: true},
		{Title: "Throughput", Value: fmt.Sprintf("%s rows/sec", formatNumberWithCommas(throughput)), Short: true},
	}

	color, icon := "#36a64f", ":white_check_mark:"
	text := fmt.Sprintf("Warehouse load completed. Loaded %d tables with %s total rows.",
		r.Succeeded, formatNumberWithCommas(r.Rows))
	if r.Failed > 0 {
		color, icon = "#ffc107", ":warning:"
		text = fmt.Sprintf("Warehouse load completed with errors. %d tables succeeded, %d tables failed.",
			r.Succeeded, r.Failed)
		fields = append(fields, SlackField{Title: "Failed Tables", Value: failureSummary(r.Failures), Short: false})
	}

	return SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Text:      text,
		Attachments: []SlackAttachment{{
			Color:     color,
			Fields:    fields,
			Footer:    footer,
			Timestamp: time.Now().Unix(),
		}},
	}
}

// RunFailed sends notification when a run aborts
func (n *Notifier) RunFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{{
			Color: "#dc3545",
			Title: "Warehouse Load Failed",
			Fields: []SlackField{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Error", Value: errMsg, Short: false},
			},
			Footer:    footer,
			Timestamp: time.Now().Unix(),
		}},
	})
}

func failureSummary(failures []string) string {
	if len(failures) <= 5 {
		return strings.Join(failures, ", ")
	}
	return fmt.Sprintf("%s... and %d more", strings.Join(failures[:3], ", "), len(failures)-3)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "whload"
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
