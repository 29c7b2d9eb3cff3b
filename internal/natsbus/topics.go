package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicEventsRun carries every event appended to a run's log.
func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

// TopicDirectorInbox notifies that a message was delivered to a director.
func TopicDirectorInbox(director string) string {
	return fmt.Sprintf("director.%s.inbox", director)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsRuns     = "events.run.*"
	TopicEventsBriefRun = "events.brief.executed"
)
