// Package download конвейер обработки ссылки: проверка ссылки, допуск,
// извлечение прямой ссылки, скачивание во временный файл и отправка видео.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/metrics"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/services/admission"
)

var (
	// ErrInvalidLink ссылка не похожа на ссылку файлообменника.
	ErrInvalidLink = errors.New("invalid link")
	// ErrUpstream сбой внешнего сервиса, сети или отправки файла.
	ErrUpstream = errors.New("upstream failure")
)

var linkPattern = regexp.MustCompile(`^https?://(?:www\.)?terabox\.com/s/[\w\-]+`)

// ValidLink проверяет, что текст начинается со ссылки на файл Terabox.
func ValidLink(link string) bool {
	return linkPattern.MatchString(strings.TrimSpace(link))
}

// Admission контроль допуска.
type Admission interface {
	Admit(ctx context.Context, userID int64) (*admission.Ticket, error)
	MaxSizeMB() float64
}

// Extractor сервис извлечения прямой ссылки.
type Extractor interface {
	Extract(ctx context.Context, link string) (*models.ExtractResult, error)
}

// Sender отправка результата в чат.
type Sender interface {
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
	SendVideo(ctx context.Context, chatID int64, filename string, r io.Reader, caption string) error
}

// Request запрос пользователя.
type Request struct {
	UserID int64
	ChatID int64
	Link   string
}

// Result итог обработки.
type Result struct {
	State    State
	Filename string
	SizeMB   float64
	Paid     bool
}

// Pipeline конвейер загрузки.
type Pipeline struct {
	admission  Admission
	extractor  Extractor
	sender     Sender
	httpClient *http.Client
	dir        string
	log        *slog.Logger
}

// New создаёт конвейер. Временные файлы создаются в dir.
func New(adm Admission, ext Extractor, sender Sender, httpClient *http.Client, dir string, log *slog.Logger) *Pipeline {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Pipeline{
		admission:  adm,
		extractor:  ext,
		sender:     sender,
		httpClient: httpClient,
		dir:        dir,
		log:        log,
	}
}

// Process обрабатывает одну ссылку. progress вызывается при переходе между
// этапами и может быть nil. Слот и временный файл освобождаются на любом пути
// выхода, включая отмену ctx.
func (p *Pipeline) Process(ctx context.Context, req Request, progress func(State)) (res Result, err error) {
	const op = "services.download.Process"
	log := p.log.With(slog.String("op", op), slog.Int64("user_id", req.UserID))
	notify := func(s State) {
		res.State = s
		if progress != nil {
			progress(s)
		}
	}
	res.State = StatePending

	defer func() {
		metrics.RecordDownload(outcome(res.State, err))
	}()

	link := strings.TrimSpace(req.Link)
	if !ValidLink(link) {
		res.State = StateRejected
		return res, fmt.Errorf("%s: %w", op, ErrInvalidLink)
	}

	ticket, err := p.admission.Admit(ctx, req.UserID)
	if err != nil {
		res.State = StateFailed
		if errors.Is(err, admission.ErrQuotaExceeded) {
			res.State = StateRejected
		}
		return res, fmt.Errorf("%s: %w", op, err)
	}
	res.Paid = ticket.Paid()
	success := false
	defer func() {
		// Учёт загрузки не должен пропасть из-за отмены уже после отправки.
		if derr := ticket.Done(context.WithoutCancel(ctx), success); derr != nil {
			log.Error("failed to record download", sl.Err(derr))
		}
	}()
	notify(StateAdmitted)

	notify(StateExtracting)
	info, err := p.extractor.Extract(ctx, link)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
	}
	res.Filename = displayName(info.Filename)
	res.SizeMB = info.SizeMB
	metrics.DownloadSizeMB.Observe(info.SizeMB)

	if err := ticket.CheckSize(info.SizeMB); err != nil {
		res.State = StateRejected
		return res, fmt.Errorf("%s: %w", op, err)
	}

	if info.Thumbnail != "" {
		caption := fmt.Sprintf("🎥 %s...\n📏 %.1f MB", truncate(res.Filename, 30), info.SizeMB)
		if err := p.sender.SendPhoto(ctx, req.ChatID, info.Thumbnail, caption); err != nil {
			log.Warn("failed to send thumbnail", sl.Err(err))
		}
	}

	notify(StateTransferring)
	maxBytes := int64(p.admission.MaxSizeMB() * 1024 * 1024)
	path, err := p.fetch(ctx, info.DownloadLink, req.UserID, res.Filename, maxBytes)
	if err != nil {
		res.State = StateFailed
		if errors.Is(err, admission.ErrTooLarge) {
			res.State = StateRejected
			return res, fmt.Errorf("%s: %w", op, err)
		}
		return res, fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
	}
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.Warn("failed to remove temp file", slog.String("path", path), sl.Err(rerr))
		}
	}()

	if err := p.send(ctx, req.ChatID, path, res.Filename); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
	}

	success = true
	notify(StateCompleted)
	log.Info("download completed", slog.String("file", res.Filename), slog.Float64("size_mb", info.SizeMB))
	return res, nil
}

// fetch скачивает файл во временный файл. При любой ошибке файл удаляется.
func (p *Pipeline) fetch(ctx context.Context, link string, userID int64, filename string, maxBytes int64) (string, error) {
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(p.dir, fmt.Sprintf("%d_*%s", userID, filepath.Ext(filename)))
	if err != nil {
		return "", err
	}
	path := f.Name()

	if err := p.download(ctx, link, f, maxBytes); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (p *Pipeline) download(ctx context.Context, link string, w io.Writer, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return fmt.Errorf("%w: %d bytes", admission.ErrTooLarge, resp.ContentLength)
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return err
	}
	if n > maxBytes {
		return fmt.Errorf("%w: more than %d bytes", admission.ErrTooLarge, maxBytes)
	}
	return nil
}

func (p *Pipeline) send(ctx context.Context, chatID int64, path, filename string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	caption := fmt.Sprintf("🎥 %s...", truncate(filename, 50))
	return p.sender.SendVideo(ctx, chatID, filename, f, caption)
}

func displayName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "video.mp4"
	}
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func outcome(state State, err error) string {
	switch {
	case err == nil:
		return state.String()
	case errors.Is(err, ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, admission.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, admission.ErrTooLarge):
		return "too_large"
	default:
		return "failed"
	}
}
