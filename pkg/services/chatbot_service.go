package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/config"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/extract"
	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/repositories"
)

// ChatbotService runs the conversation state machine. The state is never
// stored: every turn recomputes it from the profile and transcript.
type ChatbotService interface {
	// ProcessTurn handles one user message. A nil sessionID resumes the
	// user's active session or starts a new one.
	ProcessTurn(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, message string) (*models.TurnResult, error)
	// ProcessFile extracts text from an uploaded document and handles it as
	// a user message.
	ProcessFile(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, upload *FileUpload) (*models.TurnResult, error)
	GetProgress(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.Progress, error)
}

// FileUpload is a document submitted in place of a typed message.
type FileUpload struct {
	Filename string
	MimeType string
	Data     []byte
}

// ChatbotDeps groups the collaborators of the chatbot service.
type ChatbotDeps struct {
	Sessions    SessionService
	Products    ProductService
	SessionRepo repositories.SessionRepository
	ProfileRepo repositories.ProfileRepository
	ProductRepo repositories.ProductRepository
	TurnRepo    repositories.TurnRepository
	// Oracle may be nil; turns then use slot filling.
	Oracle    OracleExtractor
	Extractor extract.TextExtractor
	Tx        database.Transactor
	Locker    database.TurnLocker
}

type chatbotService struct {
	ChatbotDeps
	cfg    config.ChatbotConfig
	logger *zap.Logger
}

// NewChatbotService creates the conversation orchestrator.
func NewChatbotService(deps ChatbotDeps, cfg config.ChatbotConfig, logger *zap.Logger) ChatbotService {
	return &chatbotService{
		ChatbotDeps: deps,
		cfg:         cfg,
		logger:      logger.Named("chatbot"),
	}
}

var _ ChatbotService = (*chatbotService)(nil)

// turnInput separates what is stored in the transcript from what the slot
// extractor reads. They differ only for file uploads.
type turnInput struct {
	content  string
	text     string
	fromFile bool
}

type turnOutcome struct {
	reply         string
	completed     bool
	profile       *models.Profile
	productsCount int
}

func (s *chatbotService) ProcessTurn(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, message string) (*models.TurnResult, error) {
	message = strings.TrimSpace(message)
	return s.processTurn(ctx, userID, sessionID, turnInput{content: message, text: message})
}

func (s *chatbotService) ProcessFile(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, upload *FileUpload) (*models.TurnResult, error) {
	if s.cfg.MaxUploadBytes > 0 && int64(len(upload.Data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", apperrors.ErrFileTooLarge, len(upload.Data))
	}

	text, err := s.Extractor.ExtractText(ctx, upload.Data, upload.MimeType)
	if err != nil {
		s.logger.Warn("Text extraction failed",
			zap.String("filename", upload.Filename),
			zap.String("mime_type", upload.MimeType),
			zap.Error(err))
		return nil, fmt.Errorf("failed to extract text from %s: %w", upload.Filename, err)
	}

	excerpt := extract.Truncate(text, s.cfg.FileTextLimit)
	content := fmt.Sprintf("[上傳檔案: %s]\n%s", upload.Filename, excerpt)
	return s.processTurn(ctx, userID, sessionID, turnInput{content: content, text: excerpt, fromFile: true})
}

func (s *chatbotService) processTurn(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, in turnInput) (*models.TurnResult, error) {
	unlock, err := s.Locker.Lock(ctx, turnLockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	defer unlock()

	session, profile, err := s.Sessions.ResolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case session.IsCompleted():
		return nil, apperrors.ErrSessionCompleted
	case session.IsAbandoned():
		return nil, apperrors.ErrSessionAbandoned
	}

	turnCount, err := s.TurnRepo.Count(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}
	productsCount, err := s.ProductRepo.CountByProfile(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	var history []*models.Turn
	if s.useOracle() {
		if history, err = s.TurnRepo.ListRecent(ctx, session.ID, s.cfg.HistoryWindow); err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
	}

	s.logger.Debug("Processing turn",
		zap.String("session_id", session.ID.String()),
		zap.Int("turn_count", turnCount),
		zap.Bool("from_file", in.fromFile),
		zap.String("message", logging.TruncateForLog(in.content, logging.MaxMessageLogRunes)))

	// The user's words are kept for audit even when the rest of the turn fails.
	if err := s.appendTurn(ctx, session.ID, models.ChatRoleUser, in.content); err != nil {
		return nil, err
	}

	var outcome *turnOutcome
	switch {
	case s.useOracle():
		outcome, err = s.oracleTurn(ctx, session, profile, productsCount, history, in)
	case turnCount == 0 && !in.fromFile:
		outcome, err = s.menuTurn(ctx, session, profile, productsCount, in)
	default:
		outcome, err = s.slotTurn(ctx, session, profile, productsCount, in)
	}
	if err != nil {
		s.logger.Error("Turn failed",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		return nil, err
	}

	status := session.Status
	if outcome.completed {
		status = models.SessionStatusCompleted
		s.logger.Info("Session completed",
			zap.String("session_id", session.ID.String()),
			zap.Int("fields_completed", outcome.profile.CompletedFieldCount()),
			zap.Int("products", outcome.productsCount))
	}

	progress := CalculateProgress(outcome.profile, outcome.productsCount)
	progress.Phase = DerivePhase(status, turnCount+2, outcome.profile)

	return &models.TurnResult{
		SessionID:    session.ID,
		ResponseText: outcome.reply,
		Completed:    outcome.completed,
		Progress:     progress,
	}, nil
}

func (s *chatbotService) useOracle() bool {
	return s.cfg.Strategy == config.StrategyOracle && s.Oracle != nil
}

// oracleTurn lets the oracle fill any number of fields and products at once.
// An oracle failure yields an apology and leaves the profile untouched.
func (s *chatbotService) oracleTurn(
	ctx context.Context,
	session *models.ConversationSession,
	profile *models.Profile,
	productsCount int,
	history []*models.Turn,
	in turnInput,
) (*turnOutcome, error) {
	result, err := s.Oracle.Extract(ctx, &OracleInput{
		SessionID:     session.ID,
		Profile:       profile,
		ProductsCount: productsCount,
		History:       history,
		Message:       in.content,
	})
	if err != nil {
		s.logger.Warn("Oracle extraction failed, replying with apology",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		if err := s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, oracleApology); err != nil {
			return nil, err
		}
		return &turnOutcome{reply: oracleApology, profile: profile, productsCount: productsCount}, nil
	}

	outcome := &turnOutcome{}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.ProfileRepo.GetBySessionForUpdate(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to lock profile: %w", err)
		}

		applied, err := s.applyActions(ctx, session, current, result.Actions)
		if err != nil {
			return err
		}

		count, err := s.ProductRepo.CountByProfile(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("failed to count products: %w", err)
		}

		reply := strings.TrimSpace(result.Text)
		switch {
		case reply != "":
		case applied.completed:
			reply = completionSummary(current, count)
		default:
			reply = confirmationMessage(current, applied.changed, applied.products)
		}

		if err := s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, reply); err != nil {
			return err
		}

		*outcome = turnOutcome{reply: reply, completed: applied.completed, profile: current, productsCount: count}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply oracle updates: %w", err)
	}

	s.logger.Info("Oracle turn applied",
		zap.String("session_id", session.ID.String()),
		zap.Int("actions", len(result.Actions)),
		zap.Bool("completed", outcome.completed))
	return outcome, nil
}

type appliedActions struct {
	changed   []models.FieldSpec
	products  []*models.Product
	completed bool
}

// applyActions runs decoded oracle actions against a locked profile. It must
// be called inside a transaction so a failure discards all of them.
func (s *chatbotService) applyActions(
	ctx context.Context,
	session *models.ConversationSession,
	profile *models.Profile,
	actions []models.OracleAction,
) (*appliedActions, error) {
	before := profile.Clone()
	out := &appliedActions{}
	dirty := false

	for _, action := range actions {
		switch a := action.(type) {
		case models.UpdateCompanyData:
			if ApplyUpdates(profile, a.Updates) {
				dirty = true
			}
		case models.AddProduct:
			product, _, err := s.Products.UpsertProduct(ctx, profile.ID, a.Fields)
			if err != nil {
				return nil, err
			}
			out.products = append(out.products, product)
		case models.MarkCompleted:
			if a.Completed {
				out.completed = true
			}
		}
	}

	if dirty {
		if err := s.ProfileRepo.UpdateFields(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to save profile: %w", err)
		}
	}
	if out.completed {
		if err := s.SessionRepo.UpdateStatus(ctx, session.ID, models.SessionStatusCompleted); err != nil {
			return nil, fmt.Errorf("failed to complete session: %w", err)
		}
	}

	out.changed = changedFields(before, profile)
	return out, nil
}

// menuTurn answers the very first slot-filling message, which is read as a
// menu choice rather than field data.
func (s *chatbotService) menuTurn(
	ctx context.Context,
	session *models.ConversationSession,
	profile *models.Profile,
	productsCount int,
	in turnInput,
) (*turnOutcome, error) {
	var reply string
	switch menuChoice(in.text) {
	case menuStart:
		reply = "好的，讓我們開始吧！\n\n" + nextPrompt(profile)
	case menuProgress:
		reply = progressMessage(profile, CalculateProgress(profile, productsCount))
	default:
		reply = greetingMenu
	}

	if err := s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, reply); err != nil {
		return nil, err
	}
	return &turnOutcome{reply: reply, profile: profile, productsCount: productsCount}, nil
}

type menuOption int

const (
	menuNone menuOption = iota
	menuStart
	menuProgress
)

func menuChoice(text string) menuOption {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == "1" || strings.Contains(t, "開始") || strings.Contains(t, "start"):
		return menuStart
	case t == "2" || strings.Contains(t, "進度") || strings.Contains(t, "progress"):
		return menuProgress
	}
	return menuNone
}

// slotTurn fills the first missing field, or handles the product phase once
// every field is set.
func (s *chatbotService) slotTurn(
	ctx context.Context,
	session *models.ConversationSession,
	profile *models.Profile,
	productsCount int,
	in turnInput,
) (*turnOutcome, error) {
	if target, missing := profile.NextMissingField(); missing {
		updates, ok := ExtractSlot(target.Key, in.text)
		if !ok {
			s.logger.Debug("Slot extraction found no value",
				zap.String("session_id", session.ID.String()),
				zap.String("field", string(target.Key)))
			return s.reply(ctx, session, profile, productsCount, notUnderstoodPrefix+target.Prompt)
		}
		return s.slotMerge(ctx, session, updates)
	}

	if fields, ok := ParseProductLines(in.text); ok {
		return s.slotProduct(ctx, session, profile, fields)
	}

	if IsFinishWord(in.text) {
		turns, err := s.TurnRepo.ListBySession(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		if productPhaseShown(turns) {
			return s.complete(ctx, session, profile, productsCount)
		}
		return s.reply(ctx, session, profile, productsCount, models.ProductPhasePrompt)
	}

	return s.reply(ctx, session, profile, productsCount, notUnderstoodPrefix+models.ProductPhasePrompt)
}

func (s *chatbotService) slotMerge(ctx context.Context, session *models.ConversationSession, updates models.FieldUpdates) (*turnOutcome, error) {
	outcome := &turnOutcome{}
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.ProfileRepo.GetBySessionForUpdate(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to lock profile: %w", err)
		}
		before := current.Clone()
		if ApplyUpdates(current, updates) {
			if err := s.ProfileRepo.UpdateFields(ctx, current); err != nil {
				return fmt.Errorf("failed to save profile: %w", err)
			}
		}
		count, err := s.ProductRepo.CountByProfile(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("failed to count products: %w", err)
		}

		reply := confirmationMessage(current, changedFields(before, current), nil)
		if err := s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, reply); err != nil {
			return err
		}
		*outcome = turnOutcome{reply: reply, profile: current, productsCount: count}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge slot value: %w", err)
	}
	return outcome, nil
}

func (s *chatbotService) slotProduct(ctx context.Context, session *models.ConversationSession, profile *models.Profile, fields models.ProductFields) (*turnOutcome, error) {
	outcome := &turnOutcome{}
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		product, wasNew, err := s.Products.UpsertProduct(ctx, profile.ID, fields)
		if err != nil {
			return err
		}
		count, err := s.ProductRepo.CountByProfile(ctx, profile.ID)
		if err != nil {
			return fmt.Errorf("failed to count products: %w", err)
		}

		reply := productAddedMessage(product, wasNew)
		if err := s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, reply); err != nil {
			return err
		}
		*outcome = turnOutcome{reply: reply, profile: profile, productsCount: count}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save product: %w", err)
	}
	return outcome, nil
}

func (s *chatbotService) complete(ctx context.Context, session *models.ConversationSession, profile *models.Profile, productsCount int) (*turnOutcome, error) {
	reply := completionSummary(profile, productsCount)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.SessionRepo.UpdateStatus(ctx, session.ID, models.SessionStatusCompleted); err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
		return s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, reply)
	})
	if err != nil {
		return nil, err
	}
	return &turnOutcome{reply: reply, completed: true, profile: profile, productsCount: productsCount}, nil
}

// reply stores an assistant message that changes no data.
func (s *chatbotService) reply(ctx context.Context, session *models.ConversationSession, profile *models.Profile, productsCount int, text string) (*turnOutcome, error) {
	if err := s.appendTurn(ctx, session.ID, models.ChatRoleAssistant, text); err != nil {
		return nil, err
	}
	return &turnOutcome{reply: text, profile: profile, productsCount: productsCount}, nil
}

func (s *chatbotService) appendTurn(ctx context.Context, sessionID uuid.UUID, role models.ChatRole, content string) error {
	if err := s.TurnRepo.Append(ctx, &models.Turn{SessionID: sessionID, Role: role, Content: content}); err != nil {
		return fmt.Errorf("failed to record %s turn: %w", role, err)
	}
	return nil
}

// productPhaseShown reports whether the assistant has already asked for
// products in this session.
func productPhaseShown(turns []*models.Turn) bool {
	for _, t := range turns {
		if t.Role != models.ChatRoleAssistant {
			continue
		}
		if strings.Contains(t.Content, productPhaseMarker) || strings.Contains(t.Content, productAddedFollowUp) {
			return true
		}
	}
	return false
}

func (s *chatbotService) GetProgress(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.Progress, error) {
	var (
		session *models.ConversationSession
		profile *models.Profile
		err     error
	)
	if sessionID != nil {
		if session, err = s.Sessions.GetSession(ctx, userID, *sessionID); err != nil {
			return nil, err
		}
		if profile, err = s.ProfileRepo.GetBySession(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
	} else {
		profile, err = s.ProfileRepo.GetCurrent(ctx, userID)
		if errors.Is(err, apperrors.ErrNotFound) {
			empty := CalculateProgress(&models.Profile{}, 0)
			empty.Phase = models.PhaseAwaitingFirstTurn
			return &empty, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load current profile: %w", err)
		}
		if session, err = s.SessionRepo.Get(ctx, profile.SessionID); err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}

	productsCount, err := s.ProductRepo.CountByProfile(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	turnCount, err := s.TurnRepo.Count(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}

	progress := CalculateProgress(profile, productsCount)
	progress.Phase = DerivePhase(session.Status, turnCount, profile)
	return &progress, nil
}

func turnLockKey(userID uuid.UUID) string {
	return "onboard:turn:" + userID.String()
}
