package notifications

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/profiles"
)

const alertTitle = "Fall Detection Alert"

// Message is the channel-neutral alert. Each sender picks the fields it can
// carry: email uses Subject+Body, SMS uses Short, push uses Subject+Short+Data.
type Message struct {
	Subject string
	Body    string
	Short   string
	Data    map[string]string
}

// BuildMessage renders the alert for e about the subject in p.
func BuildMessage(e falls.Event, p profiles.Profile) Message {
	name := p.Name
	if name == "" {
		name = fmt.Sprintf("Subject #%d", e.SubjectID)
	}
	location := sensorLocation(e.SensorData)

	var body strings.Builder
	fmt.Fprintf(&body, "A fall has been detected for %s.\n", name)
	fmt.Fprintf(&body, "Time: %s\n", e.DetectedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if location != "" {
		fmt.Fprintf(&body, "Location: %s\n", location)
	}
	fmt.Fprintf(&body, "Status: %s\n", e.Status)
	body.WriteString("Please check on the person immediately if possible.\n")

	short := fmt.Sprintf("FALL ALERT: %s has fallen", name)
	if location != "" {
		short += " at " + location
	}
	short += fmt.Sprintf(". Time: %s. Status: %s. Please check immediately.",
		e.DetectedAt.UTC().Format(time.TimeOnly), e.Status)

	return Message{
		Subject: alertTitle,
		Body:    body.String(),
		Short:   short,
		Data: map[string]string{
			"event_id":   strconv.FormatInt(e.ID, 10),
			"subject_id": strconv.FormatInt(e.SubjectID, 10),
			"status":     string(e.Status),
			"location":   location,
			"timestamp":  e.DetectedAt.UTC().Format(time.RFC3339),
		},
	}
}

// sensorLocation pulls an optional "location" string out of the opaque
// sensor payload.
func sensorLocation(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Location
}
