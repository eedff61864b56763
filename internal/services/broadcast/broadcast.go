// Package broadcast рассылка сообщения администратора всем пользователям бота.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/metrics"
	"github.com/magabrotheeeer/terabox-bot/internal/telegram"
)

// MaxRecipients ограничение числа получателей одной рассылки.
const MaxRecipients = 1000

// ErrEmptyMessage пустой текст рассылки.
var ErrEmptyMessage = errors.New("empty broadcast message")

// Users источник списка получателей.
type Users interface {
	UserIDs(ctx context.Context) ([]int64, error)
}

// Sender отправка текстового сообщения.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Job задача рассылки. ReplyChatID получает отчёт, ноль отключает отчёт.
type Job struct {
	Text        string    `json:"text"`
	ReplyChatID int64     `json:"reply_chat_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Report итог рассылки.
type Report struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

// Dispatcher принимает задачу рассылки.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Service выполняет рассылки с ограничением скорости отправки.
type Service struct {
	users   Users
	sender  Sender
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewService создаёт Service. perSecond <= 0 снимает ограничение скорости.
func NewService(users Users, sender Sender, log *slog.Logger, perSecond float64, burst int) *Service {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Service{
		users:   users,
		sender:  sender,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Send отправляет текст первым MaxRecipients пользователям. Ошибки отдельных
// получателей учитываются в отчёте и не прерывают рассылку.
func (s *Service) Send(ctx context.Context, text string) (Report, error) {
	const op = "services.broadcast.Send"
	var report Report
	if strings.TrimSpace(text) == "" {
		return report, fmt.Errorf("%s: %w", op, ErrEmptyMessage)
	}

	ids, err := s.users.UserIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) > MaxRecipients {
		ids = ids[:MaxRecipients]
	}
	report.Total = len(ids)

	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}
		err := s.sender.SendMessage(ctx, id, text)
		switch {
		case err == nil:
			report.Sent++
			metrics.BroadcastMessagesTotal.WithLabelValues("sent").Inc()
		case errors.Is(err, telegram.ErrBlocked):
			report.Failed++
			report.Blocked++
			metrics.BroadcastMessagesTotal.WithLabelValues("blocked").Inc()
		default:
			report.Failed++
			metrics.BroadcastMessagesTotal.WithLabelValues("failed").Inc()
			s.log.Debug("broadcast message failed", slog.Int64("user_id", id), sl.Err(err))
		}
	}

	s.log.Info("broadcast completed",
		slog.Int("total", report.Total),
		slog.Int("sent", report.Sent),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// Dispatch выполняет задачу сразу. Если задан ReplyChatID, итог, включая
// ошибку, уходит отчётом в этот чат и не возвращается.
func (s *Service) Dispatch(ctx context.Context, job Job) error {
	report, err := s.Send(ctx, job.Text)
	if job.ReplyChatID == 0 {
		return err
	}
	if err != nil {
		s.log.Error("broadcast failed", sl.Err(err))
	}
	if rerr := s.sender.SendMessage(context.WithoutCancel(ctx), job.ReplyChatID, FormatReport(report, err)); rerr != nil {
		s.log.Warn("failed to send broadcast report", sl.Err(rerr))
	}
	return nil
}

// Handle обрабатывает сообщение из очереди рассылок. Повторная доставка
// разослала бы сообщение второй раз, поэтому ошибки рассылки не возвращают
// задачу в очередь.
func (s *Service) Handle(ctx context.Context, body []byte) error {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("decode broadcast job: %w: %w", rabbitmq.ErrDrop, err)
	}
	if err := s.Dispatch(ctx, job); err != nil {
		s.log.Error("broadcast job failed", sl.Err(err))
	}
	return nil
}

// FormatReport текст отчёта для администратора.
func FormatReport(r Report, err error) string {
	if err != nil && r.Total == 0 {
		return "❌ Broadcast failed."
	}
	text := fmt.Sprintf("📢 Broadcast completed!\n✅ Sent: %d\n❌ Failed: %d", r.Sent, r.Failed)
	if err != nil {
		text += "\n⚠️ Interrupted before all users were reached."
	}
	return text
}

// Queue ставит задачи рассылки в RabbitMQ.
type Queue struct {
	ch rabbitmq.Publisher
}

// NewQueue создаёт Queue поверх канала брокера.
func NewQueue(ch rabbitmq.Publisher) *Queue {
	return &Queue{ch: ch}
}

// Dispatch публикует задачу.
func (q *Queue) Dispatch(_ context.Context, job Job) error {
	const op = "services.broadcast.Queue.Dispatch"
	if strings.TrimSpace(job.Text) == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyMessage)
	}
	if err := rabbitmq.PublishMessage(q.ch, rabbitmq.BroadcastExchange, rabbitmq.BroadcastRoutingKey, job); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Background выполняет задачи в отдельных горутинах, не задерживая вызывающего.
// Задачи наследуют контекст base, а не контекст вызова.
type Background struct {
	base context.Context
	next Dispatcher
	log  *slog.Logger
	wg   sync.WaitGroup
}

// NewBackground создаёт Background поверх next.
func NewBackground(base context.Context, next Dispatcher, log *slog.Logger) *Background {
	return &Background{base: base, next: next, log: log}
}

// Dispatch запускает задачу и сразу возвращает управление.
func (b *Background) Dispatch(_ context.Context, job Job) error {
	const op = "services.broadcast.Background.Dispatch"
	if strings.TrimSpace(job.Text) == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyMessage)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.next.Dispatch(b.base, job); err != nil {
			b.log.Error("background broadcast failed", slog.String("op", op), sl.Err(err))
		}
	}()
	return nil
}

// Wait дожидается завершения запущенных задач.
func (b *Background) Wait() {
	b.wg.Wait()
}
