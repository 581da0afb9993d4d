package notify

import (
	"fmt"
	"time"

	"pricealerts/internal/models"
)

const (
	colorAbove = 0x00ff00
	colorBelow = 0xff0000
	colorTest  = 0x00ff00

	timeLayout = "2006-01-02 15:04:05"
)

// Message is the body of a Discord webhook call.
type Message struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content"`
	Embeds   []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      *Footer `json:"footer,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text string `json:"text"`
}

func conditionText(c models.ConditionType) string {
	if c == models.ConditionAbove {
		return "above"
	}
	return "below"
}

func conditionColor(c models.ConditionType) int {
	if c == models.ConditionAbove {
		return colorAbove
	}
	return colorBelow
}

// AlertMessage builds the trigger notification for alert at the given ratio.
func AlertMessage(username, footer string, alert *models.Alert, basePrice, ratio float64, now time.Time) Message {
	pair := alert.Pair()
	cond := conditionText(alert.ConditionType)

	fields := []Field{
		{Name: "Current ratio", Value: code(FormatPrice(ratio) + " " + alert.QuoteCurrency), Inline: true},
		{Name: "Target", Value: code(FormatPrice(alert.TargetPrice) + " " + alert.QuoteCurrency), Inline: true},
		{Name: "Change", Value: code(FormatChange(ratio, alert.TargetPrice)), Inline: true},
		{Name: "Condition", Value: code(cond + " " + FormatPrice(alert.TargetPrice)), Inline: true},
		{Name: "Pair", Value: code(pair), Inline: true},
		{Name: "Triggered at", Value: code(now.Format(timeLayout)), Inline: true},
	}
	if basePrice > 0 && basePrice != ratio {
		fields = append(fields, Field{Name: "Base price", Value: code(FormatPrice(basePrice)), Inline: true})
	}
	if alert.Note != "" {
		fields = append(fields, Field{Name: "Note", Value: alert.Note})
	}

	return Message{
		Username: username,
		Content: fmt.Sprintf("**Price alert**: %s is %s the target %s (current %s)",
			pair, cond, FormatPrice(alert.TargetPrice), FormatPrice(ratio)),
		Embeds: []Embed{{
			Title:       "Price alert triggered",
			Description: fmt.Sprintf("**%s** moved %s the target price", pair, cond),
			Color:       conditionColor(alert.ConditionType),
			Fields:      fields,
			Footer:      &Footer{Text: footer},
			Timestamp:   now.UTC().Format(time.RFC3339),
		}},
	}
}

// ConnectivityMessage builds the connectivity check sent by TestDelivery.
func ConnectivityMessage(username, footer string, now time.Time) Message {
	return Message{
		Username: username,
		Content:  "**Test notification**: webhook is reachable",
		Embeds: []Embed{{
			Title:       "Test notification",
			Description: "Price alert notifications will be delivered to this channel.",
			Color:       colorTest,
			Fields: []Field{
				{Name: "Status", Value: code("ok"), Inline: true},
				{Name: "Sent at", Value: code(now.Format(timeLayout)), Inline: true},
			},
			Footer:    &Footer{Text: footer},
			Timestamp: now.UTC().Format(time.RFC3339),
		}},
	}
}

func code(s string) string {
	return "`" + s + "`"
}
