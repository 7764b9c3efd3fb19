package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat2edit/internal/eval"
	"chat2edit/internal/logging"
	"chat2edit/internal/observability"
	"chat2edit/internal/provider"
	"chat2edit/internal/store"
	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

// Status is the outcome of a turn as reported to the caller.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// errorTitle is stored as the conversation title when a turn ends without
// a response.
const errorTitle = "ERROR"

// TurnRequest is one user message.
type TurnRequest struct {
	// ConversationID selects the conversation; empty starts a new one.
	ConversationID string
	Text           string
	Attachments    []Attachment
}

// TurnResult is what a turn produced.
type TurnResult struct {
	ConversationID string
	Status         Status
	Cycle          *types.ChatCycle
	// Response is nil when the budget ran out without a reply.
	Response *types.Message
	// Files are the response attachments converted back into files.
	Files    []*store.File
	Duration time.Duration
}

// Service handles turns against stored conversations.
type Service struct {
	store      *store.Store
	fulfiller  *Fulfiller
	maxHistory int
	metrics    *observability.Metrics
	locks      *keyedMutex
}

// NewService creates a service. maxHistory is how many responded cycles
// are replayed to the model; metrics may be nil.
func NewService(st *store.Store, f *Fulfiller, maxHistory int, metrics *observability.Metrics) *Service {
	logging.Session("Creating new Service (provider %s, history %d)", f.Provider().Name(), maxHistory)
	return &Service{
		store:      st,
		fulfiller:  f,
		maxHistory: maxHistory,
		metrics:    metrics,
		locks:      newKeyedMutex(),
	}
}

// Provider returns the provider turns are executed against.
func (s *Service) Provider() provider.Provider { return s.fulfiller.Provider() }

// Store returns the backing store.
func (s *Service) Store() *store.Store { return s.store }

// NewConversation creates an empty conversation.
func (s *Service) NewConversation(ctx context.Context) (*store.Conversation, error) {
	return s.store.CreateConversation(ctx, s.Provider().Name())
}

// HandleTurn runs one user turn end to end. Turns of the same conversation
// are serialized. A turn that ends without a response is not an error; it
// yields StatusError. Errors are host faults, cancellation or storage
// failures.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()

	conv, err := s.conversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(conv.ID)
	defer unlock()

	log := logging.WithConversation(logging.CategorySession, conv.ID)
	log.Info("Handling turn: %d chars, %d attachments", len(req.Text), len(req.Attachments))

	p := s.Provider()
	vars, err := s.LoadContext(ctx, conv.ID)
	if err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}

	attachments := append([]Attachment(nil), req.Attachments...)
	fileIDs, err := s.saveAttachments(ctx, conv.ID, attachments)
	if err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}
	varnames, err := Ingest(ctx, p, vars, attachments)
	if err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, fmt.Errorf("ingest attachments: %w", err)
	}
	s.metrics.RecordAttachments(len(attachments))

	history, err := s.History(ctx, conv.ID)
	if err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}

	request := types.Message{Text: req.Text, Varnames: varnames, FileIDs: fileIDs, Timestamp: time.Now()}
	cycle, err := s.fulfiller.WithAudit(logging.AuditWithConversation(conv.ID)).Fulfill(ctx, history, vars, request)
	if err != nil {
		log.Error("Turn failed: %v", err)
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}

	if err := s.saveContext(ctx, conv.ID, vars); err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}

	result := &TurnResult{ConversationID: conv.ID, Status: StatusError, Cycle: cycle}
	if cycle.Response != nil {
		files, err := s.responseFiles(ctx, conv.ID, vars, cycle.Response)
		if err != nil {
			s.metrics.RecordTurn(string(StatusError), time.Since(start))
			return nil, err
		}
		result.Status = StatusSuccess
		result.Response = cycle.Response
		result.Files = files
	}

	if err := s.store.AppendCycle(ctx, conv.ID, cycle); err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}
	conv.Title = errorTitle
	if cycle.Response != nil {
		conv.Title = cycle.Response.Text
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		s.metrics.RecordTurn(string(StatusError), time.Since(start))
		return nil, err
	}

	result.Duration = time.Since(start)
	s.metrics.RecordTurn(string(result.Status), result.Duration)
	log.Info("Turn %s: %s after %d model calls in %v", cycle.ID, result.Status, cycle.LLMCalls(), result.Duration)
	return result, nil
}

func (s *Service) conversation(ctx context.Context, id string) (*store.Conversation, error) {
	if id == "" {
		return s.NewConversation(ctx)
	}
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("unknown conversation %s: %w", id, err)
	}
	return conv, err
}

// History returns the cycles replayed to the model: the last maxHistory
// cycles that ended with a response.
func (s *Service) History(ctx context.Context, conversationID string) ([]*types.ChatCycle, error) {
	if s.maxHistory <= 0 {
		return nil, nil
	}
	return s.store.Cycles(ctx, conversationID, s.maxHistory, true)
}

// LoadContext decodes the stored variables of a conversation. A
// conversation without saved variables starts empty.
func (s *Service) LoadContext(ctx context.Context, conversationID string) (*value.Context, error) {
	data, err := s.store.LoadContext(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return value.NewContext(), nil
	}
	vars, err := value.Decode(data, s.Provider().Codec())
	if err != nil {
		logging.SessionError("Context of %s is unreadable: %v", conversationID, err)
		return nil, &eval.HostFatalError{Err: fmt.Errorf("decode context: %w", err)}
	}
	return vars, nil
}

// saveContext keeps only values the provider allows and stores them.
func (s *Service) saveContext(ctx context.Context, conversationID string, vars *value.Context) error {
	p := s.Provider()
	kept := vars.Filter(func(name string, v value.Value) bool {
		if p.Allowed(v) {
			return true
		}
		logging.SessionDebug("Dropping %s (%s) from context", name, v.TypeName())
		return false
	})
	data, err := value.Encode(kept, p.Codec())
	if err != nil {
		return &eval.HostFatalError{Err: fmt.Errorf("encode context: %w", err)}
	}
	return s.store.SaveContext(ctx, conversationID, data)
}

// saveAttachments stores the request files, giving ids to attachments
// that have none.
func (s *Service) saveAttachments(ctx context.Context, conversationID string, attachments []Attachment) ([]string, error) {
	ids := make([]string, 0, len(attachments))
	for i := range attachments {
		a := &attachments[i]
		if a.ID != "" {
			if _, err := s.store.GetFile(ctx, a.ID); err == nil {
				ids = append(ids, a.ID)
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
		f := &store.File{
			ID:             a.ID,
			ConversationID: conversationID,
			Name:           a.File.Name,
			ContentType:    a.File.ContentType,
			Data:           a.File.Data,
		}
		if err := s.store.SaveFile(ctx, f); err != nil {
			return nil, err
		}
		a.ID = f.ID
		ids = append(ids, f.ID)
	}
	return ids, nil
}

// responseFiles converts the response attachments into stored files.
func (s *Service) responseFiles(ctx context.Context, conversationID string, vars *value.Context, resp *types.Message) ([]*store.File, error) {
	p := s.Provider()
	files := make([]*store.File, 0, len(resp.Varnames))
	for _, name := range resp.Varnames {
		v, ok := vars.Get(name)
		if !ok {
			return nil, &eval.HostFatalError{Err: fmt.Errorf("response names unbound variable %s", name)}
		}
		pf, err := p.ConvertObjectToFile(ctx, v)
		if errors.Is(err, provider.ErrNotConvertible) {
			logging.SessionWarn("Response attachment %s is not a file: %v", name, err)
			continue
		}
		if err != nil {
			return nil, &eval.HostFatalError{Err: fmt.Errorf("convert %s: %w", name, err)}
		}
		f := &store.File{
			ConversationID: conversationID,
			Name:           pf.Name,
			ContentType:    pf.ContentType,
			Data:           pf.Data,
		}
		if err := s.store.SaveFile(ctx, f); err != nil {
			return nil, err
		}
		files = append(files, f)
		resp.FileIDs = append(resp.FileIDs, f.ID)
	}
	return files, nil
}
