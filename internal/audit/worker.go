package audit

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Worker пишет записи в Sink из отдельной горутины.
// При остановке дописывает всё, что осталось в буфере.
type Worker struct {
	eventCh chan Event
	sink    Sink
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorker создаёт воркер с буфером на bufferSize записей.
func NewWorker(sink Sink, bufferSize int) *Worker {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		eventCh: make(chan Event, bufferSize),
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start запускает горутину записи.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ctx.Done():
				w.drain()
				return
			case e := <-w.eventCh:
				w.save(w.ctx, e)
			}
		}
	}()
}

func (w *Worker) drain() {
	if n := len(w.eventCh); n > 0 {
		log.WithField("remaining", n).Info("Дописываем журнал аудита перед остановкой")
	}
	for {
		select {
		case e := <-w.eventCh:
			w.save(context.Background(), e)
		default:
			return
		}
	}
}

func (w *Worker) save(ctx context.Context, e Event) {
	if err := w.sink.SaveAuditEvent(ctx, e); err != nil {
		log.WithError(err).WithField("event_type", e.Type).Error("Ошибка записи аудита")
	}
}

// Log ставит запись в очередь. Если буфер полон, запись теряется
// с предупреждением в лог: запрос не должен ждать аудит.
func (w *Worker) Log(e Event) {
	select {
	case w.eventCh <- e:
	default:
		log.WithField("event_type", e.Type).Warn("Буфер аудита переполнен, запись пропущена")
	}
}

// Shutdown останавливает воркер и ждёт записи остатка буфера.
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
}
