package conn

import "time"

type EventListener interface {
	OnPrimitive(primitive string, took time.Duration, err error)
	OnTask(primitive string, queued bool)
}

type SelectiveListener struct {
	OnPrimitiveCb func(primitive string, took time.Duration, err error)
	OnTaskCb      func(primitive string, queued bool)
}

func (l *SelectiveListener) OnPrimitive(primitive string, took time.Duration, err error) {
	if l.OnPrimitiveCb != nil {
		l.OnPrimitiveCb(primitive, took, err)
	}
}

func (l *SelectiveListener) OnTask(primitive string, queued bool) {
	if l.OnTaskCb != nil {
		l.OnTaskCb(primitive, queued)
	}
}
