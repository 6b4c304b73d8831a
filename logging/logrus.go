package logging

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/sirupsen/logrus"
)

type (
	logrusEvent struct {
		//lint:ignore U1000 embedded for it's methods
		unimplementedEvent
		Entry *logrus.Entry
		lvl   logiface.Level
	}

	logrusLogger struct {
		Logrus *logrus.Logger
	}
)

var (
	_ logiface.Event                      = (*logrusEvent)(nil)
	_ logiface.EventFactory[*logrusEvent]  = (*logrusLogger)(nil)
	_ logiface.EventReleaser[*logrusEvent] = (*logrusLogger)(nil)
	_ logiface.Writer[*logrusEvent]        = (*logrusLogger)(nil)

	logrusEventPool = sync.Pool{New: func() any {
		return &logrusEvent{Entry: &logrus.Entry{
			Data: make(logrus.Fields, 6),
		}}
	}}
)

// NewLogrus returns a logger writing via logger, which must not be nil.
// Events are filtered by both level and the logrus logger's own level.
func NewLogrus(logger *logrus.Logger, level logiface.Level) *logiface.Logger[logiface.Event] {
	if logger == nil {
		panic(`nil logger`)
	}
	l := &logrusLogger{Logrus: logger}
	return logiface.New[*logrusEvent](
		logiface.WithEventFactory[*logrusEvent](l),
		logiface.WithEventReleaser[*logrusEvent](l),
		logiface.WithWriter[*logrusEvent](l),
		logiface.WithLevel[*logrusEvent](level),
	).Logger()
}

func (x *logrusEvent) Level() logiface.Level {
	if x != nil {
		return x.lvl
	}
	return logiface.LevelDisabled
}

func (x *logrusEvent) AddField(key string, val any) {
	// note: perform logrus.Entry.WithFields later, just prior to logging
	x.Entry.Data[key] = val
}

func (x *logrusEvent) AddMessage(msg string) bool {
	x.Entry.Message = msg
	return true
}

func (x *logrusEvent) AddError(err error) bool {
	// consistent with logrus.Entry.WithError
	x.Entry.Data[logrus.ErrorKey] = err
	return true
}

func (x *logrusLogger) NewEvent(level logiface.Level) *logrusEvent {
	event := logrusEventPool.Get().(*logrusEvent)
	event.lvl = level
	event.Entry.Logger = x.Logrus
	return event
}

func (x *logrusLogger) ReleaseEvent(event *logrusEvent) {
	clear(event.Entry.Data)
	*event.Entry = logrus.Entry{Data: event.Entry.Data}
	*event = logrusEvent{Entry: event.Entry}
	logrusEventPool.Put(event)
}

func (x *logrusLogger) Write(event *logrusEvent) error {
	logrusLevel, ok := toLogrusLevel(event.Level())
	if !ok || !event.Entry.Logger.IsLevelEnabled(logrusLevel) {
		// lets other writers (e.g. in a logiface.WriterSlice) attempt to
		// handle the event
		return logiface.ErrDisabled
	}

	fields := event.Entry.Data
	event.Entry.Data = nil
	entry := event.Entry.WithFields(fields)
	event.Entry.Data = fields

	entry.Log(logrusLevel, event.Entry.Message)

	return nil
}

// toLogrusLevel maps logiface.Level to logrus.Level. Levels more severe than
// critical map to error, as logrus exits or panics for fatal and panic.
func toLogrusLevel(level logiface.Level) (logrus.Level, bool) {
	switch level {
	case logiface.LevelTrace:
		return logrus.TraceLevel, true
	case logiface.LevelDebug:
		return logrus.DebugLevel, true
	case logiface.LevelInformational:
		return logrus.InfoLevel, true
	case logiface.LevelNotice, logiface.LevelWarning:
		return logrus.WarnLevel, true
	case logiface.LevelError, logiface.LevelCritical, logiface.LevelAlert, logiface.LevelEmergency:
		return logrus.ErrorLevel, true
	default:
		return logrus.PanicLevel, false
	}
}
