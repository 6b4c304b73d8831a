package logging

import (
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

type (
	zerologEvent struct {
		//lint:ignore U1000 embedded for it's methods
		unimplementedEvent
		Z   *zerolog.Event
		msg string
		lvl logiface.Level
	}

	zerologLogger struct {
		Z zerolog.Logger
	}

	//lint:ignore U1000 used to embed without exporting
	unimplementedEvent = logiface.UnimplementedEvent
)

var (
	// compile time assertions

	_ logiface.Event                       = (*zerologEvent)(nil)
	_ logiface.EventFactory[*zerologEvent] = (*zerologLogger)(nil)
	_ logiface.Writer[*zerologEvent]       = (*zerologLogger)(nil)
)

// NewZerolog returns a logger writing via z. Levels above error are logged
// using [zerolog.Logger.WithLevel], so they never exit or panic.
func NewZerolog(z zerolog.Logger, level logiface.Level) *logiface.Logger[logiface.Event] {
	l := &zerologLogger{Z: z}
	return logiface.New[*zerologEvent](
		logiface.WithEventFactory[*zerologEvent](l),
		logiface.WithWriter[*zerologEvent](l),
		logiface.WithLevel[*zerologEvent](level),
	).Logger()
}

func (x *zerologEvent) Level() logiface.Level {
	if x != nil {
		return x.lvl
	}
	return logiface.LevelDisabled
}

func (x *zerologEvent) AddField(key string, val any) {
	x.Z.Interface(key, val)
}

func (x *zerologEvent) AddMessage(msg string) bool {
	x.msg = msg
	return true
}

func (x *zerologEvent) AddError(err error) bool {
	x.Z.Err(err)
	return true
}

func (x *zerologEvent) AddString(key string, val string) bool {
	x.Z.Str(key, val)
	return true
}

func (x *zerologEvent) AddInt(key string, val int) bool {
	x.Z.Int(key, val)
	return true
}

func (x *zerologEvent) AddBool(key string, val bool) bool {
	x.Z.Bool(key, val)
	return true
}

func (x *zerologLogger) NewEvent(level logiface.Level) *zerologEvent {
	r := zerologEvent{lvl: level}
	switch level {
	case logiface.LevelTrace:
		r.Z = x.Z.Trace()
	case logiface.LevelDebug:
		r.Z = x.Z.Debug()
	case logiface.LevelInformational:
		r.Z = x.Z.Info()
	case logiface.LevelNotice, logiface.LevelWarning:
		r.Z = x.Z.Warn()
	case logiface.LevelError:
		r.Z = x.Z.Error()
	case logiface.LevelCritical, logiface.LevelAlert:
		r.Z = x.Z.WithLevel(zerolog.FatalLevel)
	case logiface.LevelEmergency:
		r.Z = x.Z.WithLevel(zerolog.PanicLevel)
	default:
		// >= 9, translate to numeric levels in zerolog
		// (9 -> -2, 10 -> -3, etc)
		r.Z = x.Z.WithLevel(zerolog.Level(7 - level))
	}
	return &r
}

func (x *zerologLogger) Write(event *zerologEvent) error {
	event.Z.Msg(event.msg)
	return nil
}
