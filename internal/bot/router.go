package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/muradov/gpsmaster/internal/auth"
	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/evidence"
	"github.com/muradov/gpsmaster/internal/models"
	"github.com/muradov/gpsmaster/internal/session"
)

// Router consumes inbound chat events and drives the conversational FSM and
// the order lifecycle. One Router serves all chats; events for a single chat
// arrive in order from the adapter.
type Router struct {
	db       *gorm.DB
	adapter  Adapter
	cfg      *config.Config
	catalog  evidence.Catalog
	sessions *session.Store
	dedup    *dedupCache
	loc      *time.Location
	logger   *log.Logger
	clock    func() time.Time
}

// RouterOpts configures a Router. DB, Adapter and Config are required.
type RouterOpts struct {
	DB      *gorm.DB
	Adapter Adapter
	Config  *config.Config
	Out     io.Writer
}

// NewRouter validates opts and builds a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: router requires a database")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router requires an adapter")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: router requires a config")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Router{
		db:       opts.DB,
		adapter:  opts.Adapter,
		cfg:      opts.Config,
		catalog:  evidence.NewCatalog(opts.Config.Devices, opts.Config.Pairing),
		sessions: session.NewStore(),
		dedup:    newDedupCache(defaultDedupTTL),
		loc:      opts.Config.Location(),
		logger:   log.New(opts.Out, "bot: ", log.LstdFlags),
		clock:    time.Now,
	}, nil
}

// Run pumps events from the adapter until the context is cancelled or the
// adapter closes its channel.
func (r *Router) Run(ctx context.Context) error {
	events, err := r.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("bot: listen: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle processes one inbound event. Errors are reported to the chat and
// logged; Handle never fails the pump.
func (r *Router) Handle(ctx context.Context, ev Inbound) {
	now := r.clock()
	if r.dedup.Duplicate(ev.Sequence, now) {
		r.logger.Printf("dropped duplicate update %s from chat %d", ev.Sequence, ev.ChatID)
		return
	}
	if ev.CallbackID != "" {
		if err := r.adapter.AckCallback(ctx, ev.CallbackID); err != nil {
			r.logger.Printf("ack callback: %v", err)
		}
	}
	if ev.CallbackData == "noop" {
		return
	}

	role, err := auth.RoleFor(r.db, ev.ChatID)
	if errors.Is(err, auth.ErrUnknownChat) {
		r.handleUnknown(ctx, ev)
		return
	}
	if err != nil {
		r.logger.Printf("role lookup for %d: %v", ev.ChatID, err)
		return
	}

	switch ev.Text {
	case "/start", "/menu":
		r.sessions.Clear(ev.ChatID)
		r.sendMenu(ctx, ev.ChatID, role)
		return
	case "/id":
		r.text(ctx, ev.ChatID, fmt.Sprintf("Your chat id: %d", ev.ChatID))
		return
	}

	if ev.CallbackData != "" {
		r.handleCallback(ctx, ev, role, now)
		return
	}
	r.handleText(ctx, ev, role, now)
}

// handleUnknown serves chats with no approved operator record: they can look
// up their id and request access, nothing else.
func (r *Router) handleUnknown(ctx context.Context, ev Inbound) {
	verb, _ := splitData(ev.CallbackData)
	switch verb {
	case cbMyID:
		r.text(ctx, ev.ChatID, fmt.Sprintf("Your chat id: %d", ev.ChatID))
	case cbRequest:
		if err := auth.Request(r.db, ev.ChatID, ev.UserName); err != nil {
			r.logger.Printf("access request for %d: %v", ev.ChatID, err)
			return
		}
		r.text(ctx, ev.ChatID, "Request sent. You will be notified once reviewed.")
		r.notifyAdmins(ctx, fmt.Sprintf("Access request from %s (chat %d).", ev.UserName, ev.ChatID),
			approvalKeyboard(ev.ChatID))
	default:
		r.send(ctx, Outbound{
			ChatID:   ev.ChatID,
			Text:     "This bot is private. Request access to continue.",
			Keyboard: requestAccessKeyboard(),
		})
	}
}

// handleCallback dispatches a button press by verb.
func (r *Router) handleCallback(ctx context.Context, ev Inbound, role string, now time.Time) {
	verb, rest := splitData(ev.CallbackData)
	admin := role == models.RoleAdmin || role == models.RoleSuperAdmin

	switch verb {
	case cbMenu:
		r.sessions.Clear(ev.ChatID)
		r.sendMenu(ctx, ev.ChatID, role)
	case cbMyID:
		r.text(ctx, ev.ChatID, fmt.Sprintf("Your chat id: %d", ev.ChatID))

	// Admin order wizard.
	case cbNewOrder:
		if admin {
			r.startWizard(ctx, ev)
		}
	case cbType:
		r.wizardType(ctx, ev, rest)
	case cbLogistics:
		r.wizardLogistics(ctx, ev, rest)
	case cbDevice:
		r.wizardToggleDevice(ctx, ev, rest)
	case cbDeviceDone:
		r.wizardDevicesDone(ctx, ev)
	case cbQty:
		r.wizardQty(ctx, ev, rest)
	case cbSkipNote:
		r.wizardComment(ctx, ev, "")
	case cbMaster:
		r.wizardMaster(ctx, ev, rest)
	case cbDispatch:
		r.wizardDispatch(ctx, ev)
	case cbCancel:
		r.wizardCancelAsk(ctx, ev)
	case cbCancelYes:
		r.sessions.Clear(ev.ChatID)
		r.sendMenu(ctx, ev.ChatID, role)
	case cbCancelNo:
		r.text(ctx, ev.ChatID, "Continuing where you left off.")

	// Scheduling.
	case cbAccept:
		r.masterAccept(ctx, ev, rest)
	case cbDecline:
		r.masterDecline(ctx, ev, rest)
	case cbDay:
		r.pickDay(ctx, ev, role, rest, now)
	case cbCalendar:
		r.pickCalendar(ctx, ev, rest)
	case cbHour:
		r.pickHour(ctx, ev, role, rest, now)
	case cbEstimate:
		r.masterEstimate(ctx, ev, rest)
	case cbEstSkip:
		r.masterEstimateSkip(ctx, ev, rest)
	case cbPropose:
		r.startProposal(ctx, ev, role, rest, now)
	case cbAgree:
		r.agreeProposal(ctx, ev, role, rest)

	// Field work.
	case cbArrive:
		r.masterArrive(ctx, ev, rest, now)
	case cbPhotoSkip:
		r.evidenceSkip(ctx, ev, rest)
	case cbPhotoDone:
		r.evidenceDone(ctx, ev, rest, now)
	case cbResume:
		r.evidenceResume(ctx, ev, rest)

	// Closure.
	case cbClose:
		r.adminCloseStart(ctx, ev, role, rest)
	case cbLaborSkip:
		r.adminClose(ctx, ev, role, rest, 0, now)
	case cbOrderStop:
		r.cancelOrder(ctx, ev, role, rest)

	// Reports.
	case cbReport:
		r.send(ctx, Outbound{ChatID: ev.ChatID, Text: "Pick a period:", Keyboard: reportKeyboard()})
	case cbRepPreset:
		r.reportPreset(ctx, ev, role, rest, now)
	case cbRepRange:
		r.reportRangeStart(ctx, ev)
	case cbPending:
		r.showPending(ctx, ev, role)
	case cbExport:
		r.reportExport(ctx, ev, role, rest, now)
	case cbExpPend:
		r.exportPending(ctx, ev, role)

	// Access decisions.
	case cbApprove:
		r.approveAccess(ctx, ev, role, rest)
	case cbDeny:
		r.denyAccess(ctx, ev, role, rest)

	default:
		r.logger.Printf("unknown callback %q from chat %d", ev.CallbackData, ev.ChatID)
	}
}

// handleText routes free text and photos by the chat's expected step.
func (r *Router) handleText(ctx context.Context, ev Inbound, role string, now time.Time) {
	s := r.sessions.Resolve(ev.ChatID)
	if s == nil {
		r.sendMenu(ctx, ev.ChatID, role)
		return
	}

	if ev.PhotoFileID != "" {
		if s.Step == session.StepEvidence {
			r.evidencePhoto(ctx, ev, s)
		} else {
			r.text(ctx, ev.ChatID, msgStale)
		}
		return
	}

	switch s.Step {
	case session.StepAddress:
		r.wizardAddress(ctx, ev)
	case session.StepPhone:
		r.wizardPhone(ctx, ev)
	case session.StepQuantity:
		r.wizardQtyText(ctx, ev, s)
	case session.StepComment:
		r.wizardComment(ctx, ev, ev.Text)
	case session.StepCloseLabor:
		r.adminCloseText(ctx, ev, role, s, now)
	case session.StepReportRange:
		r.reportRangeText(ctx, ev, role, now)
	default:
		r.text(ctx, ev.ChatID, msgStale)
	}
}

// sendMenu shows the role-appropriate top-level menu.
func (r *Router) sendMenu(ctx context.Context, chatID int64, role string) {
	kb := adminMenu()
	if role == models.RoleMaster {
		kb = masterMenu()
	}
	r.send(ctx, Outbound{ChatID: chatID, Text: "What next?", Keyboard: kb})
}

// send delivers one outbound message, logging failures.
func (r *Router) send(ctx context.Context, msg Outbound) {
	if err := r.adapter.Send(ctx, msg); err != nil {
		r.logger.Printf("send to %d: %v", msg.ChatID, err)
	}
}

func (r *Router) text(ctx context.Context, chatID int64, text string) {
	r.send(ctx, Outbound{ChatID: chatID, Text: text})
}

// notifyAdmins fans a message out to every approved admin chat.
func (r *Router) notifyAdmins(ctx context.Context, text string, kb [][]Button) {
	chats, err := auth.AdminChats(r.db)
	if err != nil {
		r.logger.Printf("admin fan-out: %v", err)
		return
	}
	for _, chat := range chats {
		r.send(ctx, Outbound{ChatID: chat, Text: text, Keyboard: kb})
	}
}

// orderID parses the id argument of a callback payload.
func orderID(rest string) (uint, bool) {
	id, err := strconv.ParseUint(firstArg(rest), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// firstArg returns the first colon-separated argument.
func firstArg(rest string) string {
	arg, _, _ := splitArgs(rest)
	return arg
}

// splitArgs separates "a:b" into ("a", "b", true) or ("a", "", false).
func splitArgs(rest string) (string, string, bool) {
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:], true
		}
	}
	return rest, "", false
}
