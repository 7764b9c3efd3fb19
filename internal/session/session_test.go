package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat2edit/internal/eval"
	"chat2edit/internal/llm"
	"chat2edit/internal/observability"
	"chat2edit/internal/prompt"
	"chat2edit/internal/provider"
	"chat2edit/internal/provider/canvas"
	"chat2edit/internal/store"
	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeInference finds exactly one match for every prompt.
type fakeInference struct{}

func (fakeInference) Detect(context.Context, *canvas.Image, string) ([]canvas.Detection, error) {
	return []canvas.Detection{{Src: "data:image/png;base64,obj", Left: 1, Top: 1, Width: 2, Height: 2, Score: 0.9}}, nil
}

func (fakeInference) Segment(context.Context, *canvas.Image, [4]int64) (canvas.Detection, error) {
	return canvas.Detection{}, errors.New("not used")
}

func (fakeInference) Inpaint(context.Context, *canvas.Image, []*canvas.Image) (string, error) {
	return "", errors.New("not used")
}

func (fakeInference) Generate(context.Context, *canvas.Image, []*canvas.Image, string) (string, error) {
	return "", errors.New("not used")
}

// countingProvider counts file conversions.
type countingProvider struct {
	provider.Provider
	conversions atomic.Int32
}

func (p *countingProvider) ConvertFileToObjects(ctx context.Context, f provider.File) ([]value.Value, error) {
	p.conversions.Add(1)
	return p.Provider.ConvertFileToObjects(ctx, f)
}

type harness struct {
	store    *store.Store
	provider *countingProvider
	client   *llm.ScriptedClient
	service  *Service
	metrics  *observability.Metrics
}

func newHarness(t *testing.T, cfg FulfillConfig, maxHistory int, responses ...llm.Response) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, st.Close()) })

	cp, err := canvas.New(provider.Options{}, fakeInference{})
	require.NoError(t, err)
	p := &countingProvider{Provider: cp}

	client := llm.NewScriptedClient(responses...)
	metrics := observability.NewMetrics()
	f := NewFulfiller(client, eval.New(p), cfg, metrics)
	return &harness{
		store:    st,
		provider: p,
		client:   client,
		service:  NewService(st, f, maxHistory, metrics),
		metrics:  metrics,
	}
}

func answers(as ...string) []llm.Response {
	out := make([]llm.Response, len(as))
	for i, a := range as {
		out[i] = llm.Response{Answer: a}
	}
	return out
}

func photo(t *testing.T, id string) Attachment {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return Attachment{ID: id, File: provider.File{Name: "photo.png", ContentType: "image/png", Data: buf.Bytes()}}
}

func config(maxAttempts int) FulfillConfig {
	cfg := DefaultFulfillConfig()
	cfg.MaxPromptAttempts = maxAttempts
	return cfg
}

const brightnessAnswer = `thinking: Find the house first, then brighten the whole image.
commands:
houses = detect(image0, prompt='house')
image0 = filter(image0, filter_name='brightness', filter_value=0.2)
response_user(text='Increased the brightness.', attachments=[image0])`

func TestBrightnessTurn(t *testing.T) {
	h := newHarness(t, config(4), 6, answers(brightnessAnswer)...)
	ctx := context.Background()

	res, err := h.service.HandleTurn(ctx, TurnRequest{
		Text:        "increase brightness",
		Attachments: []Attachment{photo(t, "att-1")},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.Response)
	assert.Equal(t, "Increased the brightness.", res.Response.Text)
	assert.Equal(t, []string{"image0"}, res.Response.Varnames)
	assert.Equal(t, 1, res.Cycle.LLMCalls())
	assert.Equal(t, []string{"image0"}, res.Cycle.Request.Varnames)
	assert.Equal(t, []string{"att-1"}, res.Cycle.Request.FileIDs)

	exec := res.Cycle.PromptCycles[0].Exec
	require.NotNil(t, exec)
	assert.Equal(t, types.StatusInfo, exec.Status)
	assert.Len(t, exec.Commands, 3)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "photo.png.fcanvas", res.Files[0].Name)
	assert.Equal(t, []string{res.Files[0].ID}, res.Response.FileIDs)

	conv, err := h.store.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Increased the brightness.", conv.Title)

	vars, err := h.service.LoadContext(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"image0", "houses"}, vars.Names())

	stored, err := h.store.Cycles(ctx, res.ConversationID, 0, false)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Cycle.ID, stored[0].ID)
	assert.Equal(t, res.Response.FileIDs, stored[0].Response.FileIDs)
}

func TestBrightnessTurnWithImagesKeyword(t *testing.T) {
	h := newHarness(t, config(4), 6, answers(`thinking: Brighten the photo.
commands:
houses = detect(image0, prompt='house')
image0 = filter(image0, filter_name='brightness', filter_value=0.2)
response_user(text='Done.', images=[image0])`)...)

	res, err := h.service.HandleTurn(context.Background(), TurnRequest{
		Text:        "increase brightness",
		Attachments: []Attachment{photo(t, "att-1")},
	})
	require.NoError(t, err)

	require.NotNil(t, res.Response)
	assert.Equal(t, []string{"image0"}, res.Response.Varnames)
	assert.Equal(t, 1, res.Cycle.LLMCalls())
	require.NotNil(t, res.Cycle.PromptCycles[0].Exec)
	assert.Equal(t, types.StatusInfo, res.Cycle.PromptCycles[0].Exec.Status)
}

func TestMissingCommandsExhaustsBudget(t *testing.T) {
	h := newHarness(t, config(2), 6, answers("thinking: I am not sure.", "thinking: Still not sure.", "unused")...)

	res, err := h.service.HandleTurn(context.Background(), TurnRequest{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Nil(t, res.Response)
	assert.Nil(t, res.Cycle.Response)
	assert.Equal(t, 2, res.Cycle.LLMCalls())
	assert.Len(t, h.client.Calls(), 2)
	assert.Equal(t, 1, h.client.Remaining())
	for _, msgs := range h.client.Calls() {
		assert.Len(t, msgs, 1, "without a helper prompt every call starts fresh")
	}

	conv, err := h.store.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", conv.Title)
}

func TestHelperPromptContinuesConversation(t *testing.T) {
	cfg := config(3)
	cfg.HelperPrompt = prompt.DefaultHelperPrompt
	h := newHarness(t, cfg, 6, answers(
		"Sure, I can help!",
		"thinking: Just reply.\ncommands:\nresponse_user(text='Hi!')",
	)...)

	res, err := h.service.HandleTurn(context.Background(), TurnRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	calls := h.client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{calls[0][0], "Sure, I can help!", prompt.DefaultHelperPrompt}, calls[1])

	require.Len(t, res.Cycle.PromptCycles, 1)
	pc := res.Cycle.PromptCycles[0]
	assert.Len(t, pc.Answers, 2)
	assert.Len(t, pc.Errors, 1)
	assert.Equal(t, []string{"response_user(text='Hi!')"}, pc.Commands)
}

func TestUnboundVariableBecomesFeedback(t *testing.T) {
	h := newHarness(t, config(2), 6, answers(
		"thinking: Use foo.\ncommands:\nx = foo\nresponse_user(text='never')",
		"thinking: foo does not exist.\ncommands:\nresponse_user(text='Sorry, there is no foo.')",
	)...)

	res, err := h.service.HandleTurn(context.Background(), TurnRequest{Text: "use foo"})
	require.NoError(t, err)
	require.Len(t, res.Cycle.PromptCycles, 2)

	first := res.Cycle.PromptCycles[0].Exec
	require.NotNil(t, first)
	assert.Equal(t, types.StatusError, first.Status)
	assert.Contains(t, first.Text, "foo")
	assert.Empty(t, first.Commands)
	assert.Equal(t, "x = foo", first.FailedCommand)
	assert.Nil(t, first.Response)

	second := h.client.Calls()[1][0]
	assert.Contains(t, second, "observation: sys_error(text=")
	assert.Contains(t, second, "x = foo")

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Sorry, there is no foo.", res.Response.Text)
}

func TestBudgetMonotonicity(t *testing.T) {
	failing := []string{
		"no sections at all",
		"thinking: only thinking",
		"thinking: bad\ncommands:\nx = undefined_name",
		"thinking: bad\ncommands:\nx = (",
	}
	for maxAttempts := 1; maxAttempts <= 4; maxAttempts++ {
		for _, helper := range []string{"", prompt.DefaultHelperPrompt} {
			t.Run(fmt.Sprintf("max=%d helper=%v", maxAttempts, helper != ""), func(t *testing.T) {
				script := make([]string, 0, 8)
				for i := 0; i < 8; i++ {
					script = append(script, failing[i%len(failing)])
				}
				cfg := config(maxAttempts)
				cfg.HelperPrompt = helper
				h := newHarness(t, cfg, 6, answers(script...)...)

				res, err := h.service.HandleTurn(context.Background(), TurnRequest{Text: "go"})
				require.NoError(t, err)
				assert.Nil(t, res.Cycle.Response)
				assert.Equal(t, StatusError, res.Status)
				assert.LessOrEqual(t, len(h.client.Calls()), maxAttempts)
				assert.Equal(t, len(h.client.Calls()), res.Cycle.LLMCalls())
			})
		}
	}
}

func TestLLMErrorEndsTurn(t *testing.T) {
	h := newHarness(t, config(4), 6, llm.Response{Err: errors.New("quota exceeded")})

	res, err := h.service.HandleTurn(context.Background(), TurnRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, res.Cycle.LLMCalls())
	require.Len(t, res.Cycle.PromptCycles, 1)
	assert.Equal(t, []string{"quota exceeded"}, res.Cycle.PromptCycles[0].Errors)
}

func TestAliasStabilityAcrossTurns(t *testing.T) {
	reply := "thinking: ok\ncommands:\nresponse_user(text='Got it.', attachments=[image0])"
	h := newHarness(t, config(2), 6, answers(reply, reply)...)
	ctx := context.Background()

	first, err := h.service.HandleTurn(ctx, TurnRequest{Text: "look", Attachments: []Attachment{photo(t, "att-1")}})
	require.NoError(t, err)
	second, err := h.service.HandleTurn(ctx, TurnRequest{
		ConversationID: first.ConversationID,
		Text:           "look again",
		Attachments:    []Attachment{photo(t, "att-1")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"image0"}, first.Cycle.Request.Varnames)
	assert.Equal(t, first.Cycle.Request.Varnames, second.Cycle.Request.Varnames)
	assert.EqualValues(t, 1, h.provider.conversions.Load())

	vars, err := h.service.LoadContext(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, vars.Counter("image"))
}

func TestHistoryAndExemplarWindow(t *testing.T) {
	reply := "thinking: ok\ncommands:\nresponse_user(text='Done.')"
	cfg := config(2)
	cfg.OmitExemplarsAfter = 1
	h := newHarness(t, cfg, 1, answers(reply, reply, reply)...)
	ctx := context.Background()

	first, err := h.service.HandleTurn(ctx, TurnRequest{Text: "first request"})
	require.NoError(t, err)
	_, err = h.service.HandleTurn(ctx, TurnRequest{ConversationID: first.ConversationID, Text: "second request"})
	require.NoError(t, err)
	_, err = h.service.HandleTurn(ctx, TurnRequest{ConversationID: first.ConversationID, Text: "third request"})
	require.NoError(t, err)

	calls := h.client.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0][0], prompt.DefaultExemplarsHeader)
	assert.NotContains(t, calls[1][0], prompt.DefaultExemplarsHeader)
	assert.Contains(t, calls[1][0], "first request")

	// Only the last responded cycle is replayed.
	assert.NotContains(t, calls[2][0], "first request")
	assert.Contains(t, calls[2][0], "second request")
}

func TestUnknownConversation(t *testing.T) {
	h := newHarness(t, config(1), 6)
	_, err := h.service.HandleTurn(context.Background(), TurnRequest{ConversationID: "nope", Text: "hi"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCorruptContextIsHostFatal(t *testing.T) {
	h := newHarness(t, config(1), 6)
	ctx := context.Background()
	conv, err := h.service.NewConversation(ctx)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveContext(ctx, conv.ID, []byte("{not json")))

	_, err = h.service.HandleTurn(ctx, TurnRequest{ConversationID: conv.ID, Text: "hi"})
	assert.ErrorIs(t, err, eval.ErrHostFatal)
	assert.Empty(t, h.client.Calls())
}

func TestFulfillHonoursCancellation(t *testing.T) {
	h := newHarness(t, config(2), 6, answers("thinking: x\ncommands:\nresponse_user(text='x')")...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vars, err := h.service.LoadContext(context.Background(), "none")
	require.NoError(t, err)
	cycle, err := h.service.fulfiller.Fulfill(ctx, nil, vars, types.Message{Text: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, cycle)
	assert.Zero(t, cycle.LLMCalls())
}

func TestPromptPreview(t *testing.T) {
	h := newHarness(t, config(1), 6)
	p := h.service.fulfiller.Prompt(nil, types.Message{Text: "make it pop", Varnames: []string{"image0"}})
	assert.True(t, strings.HasPrefix(p, prompt.DefaultFunctionsHeader))
	assert.Contains(t, p, "observation: user_request(text='make it pop', variables=[image0])")
	assert.True(t, strings.HasSuffix(p, prompt.DefaultInstruction))
}
