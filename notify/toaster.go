package notify

import (
	"time"

	log "github.com/sirupsen/logrus"

	"prism-live/domain"
	"prism-live/sched"
)

// DefaultToastDelay is how long a toast stays up without interaction.
const DefaultToastDelay = 5 * time.Second

// Toast is the single ephemeral alert on display.
type Toast struct {
	Message string
	Kind    domain.Kind
	TaskID  string
}

// Toaster shows at most one toast and dismisses it after a delay. Callers
// must use it from the scheduler's loop.
type Toaster struct {
	sched  sched.Scheduler
	delay  time.Duration
	logger *log.Logger

	active     *Toast
	timer      sched.Timer
	seq        uint64
	dismissals int
	onChange   []func(Toast, bool)
}

func NewToaster(s sched.Scheduler, delay time.Duration, logger *log.Logger) *Toaster {
	if delay <= 0 {
		delay = DefaultToastDelay
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Toaster{sched: s, delay: delay, logger: logger}
}

// OnChange registers fn to be told about every show (visible=true) and
// dismissal (visible=false).
func (t *Toaster) OnChange(fn func(toast Toast, visible bool)) {
	t.onChange = append(t.onChange, fn)
}

// Show replaces the current toast. The previous dismissal timer is cancelled
// before a fresh one is scheduled.
func (t *Toaster) Show(toast Toast) {
	t.cancelTimer()
	t.seq++
	seq := t.seq
	t.active = &toast
	t.timer = t.sched.AfterFunc(t.delay, func() {
		if seq != t.seq {
			return
		}
		t.timer = nil
		t.dismiss("timeout")
	})
	t.logger.WithFields(log.Fields{"kind": toast.Kind, "task": toast.TaskID}).Debug("toast shown")
	t.emit(toast, true)
}

// Dismiss hides the current toast immediately.
func (t *Toaster) Dismiss() {
	t.cancelTimer()
	t.dismiss("manual")
}

func (t *Toaster) dismiss(cause string) {
	if t.active == nil {
		return
	}
	toast := *t.active
	t.active = nil
	t.dismissals++
	t.logger.WithFields(log.Fields{"kind": toast.Kind, "cause": cause}).Debug("toast dismissed")
	t.emit(toast, false)
}

func (t *Toaster) cancelTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Toaster) emit(toast Toast, visible bool) {
	for _, fn := range t.onChange {
		fn(toast, visible)
	}
}

// Current returns the toast on display, if any.
func (t *Toaster) Current() (Toast, bool) {
	if t.active == nil {
		return Toast{}, false
	}
	return *t.active, true
}

// Dismissals counts toasts that have been hidden, by timeout or by hand.
func (t *Toaster) Dismissals() int { return t.dismissals }
