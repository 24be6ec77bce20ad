package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/config"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/extract"
	"github.com/ekaya-inc/ekaya-onboard/pkg/llm"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

type chatbotHarness struct {
	t        *testing.T
	store    *memStore
	tx       *memTx
	caller   *llm.MockToolCaller
	sessions SessionService
	svc      ChatbotService
	userID   uuid.UUID
}

func newChatbotHarness(t *testing.T, strategy string) *chatbotHarness {
	t.Helper()
	return buildChatbotHarness(t, strategy, strategy == config.StrategyOracle)
}

func buildChatbotHarness(t *testing.T, strategy string, withOracle bool) *chatbotHarness {
	t.Helper()
	logger := zap.NewNop()
	store := newMemStore()
	tx := &memTx{store: store}
	caller := llm.NewMockToolCaller()

	sessions := NewSessionService(store.sessionRepo(), store.profileRepo(), store.productRepo(), store.turnRepo(), tx, logger)
	var oracle OracleExtractor
	if withOracle {
		oracle = NewOracleExtractor(caller, nil, testOracleConfig(), 10, logger)
	}

	svc := NewChatbotService(ChatbotDeps{
		Sessions:    sessions,
		Products:    NewProductService(store.productRepo(), tx, logger),
		SessionRepo: store.sessionRepo(),
		ProfileRepo: store.profileRepo(),
		ProductRepo: store.productRepo(),
		TurnRepo:    store.turnRepo(),
		Oracle:      oracle,
		Extractor:   extract.New(logger),
		Tx:          tx,
		Locker:      database.NewLocalTurnLocker(),
	}, config.ChatbotConfig{
		Strategy:       strategy,
		HistoryWindow:  10,
		FileTextLimit:  4000,
		MaxUploadBytes: 1 << 20,
	}, logger)

	return &chatbotHarness{t: t, store: store, tx: tx, caller: caller, sessions: sessions, svc: svc, userID: uuid.New()}
}

func (h *chatbotHarness) send(message string) *models.TurnResult {
	h.t.Helper()
	res, err := h.svc.ProcessTurn(context.Background(), h.userID, nil, message)
	require.NoError(h.t, err)
	return res
}

func (h *chatbotHarness) current() *models.Profile {
	h.t.Helper()
	p, err := h.store.profileRepo().GetCurrent(context.Background(), h.userID)
	require.NoError(h.t, err)
	return p
}

func (h *chatbotHarness) respond(text string, calls ...llm.ToolCall) {
	h.caller.CallToolsFunc = llm.RespondWith(text, calls...)
}

func updateCall(args map[string]any) llm.ToolCall {
	return llm.NewMockToolCall(models.ToolUpdateCompanyData, args)
}

func allFieldsCall() llm.ToolCall {
	return updateCall(map[string]any{
		"industry":                "電子業",
		"capital_amount":          50000000,
		"invention_patent_count":  10,
		"utility_patent_count":    5,
		"certification_count":     2,
		"esg_certification_count": 1,
		"esg_certification":       "ISO 14064",
	})
}

// ============================================================================
// Oracle strategy
// ============================================================================

func TestProcessTurn_OracleScenario(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.respond("", updateCall(map[string]any{
		"industry":               "電子業",
		"capital_amount":         50000000,
		"invention_patent_count": 10,
		"utility_patent_count":   5,
	}))

	res := h.send("電子業，資本額5000萬，發明專利10件，新型專利5件")

	p := h.current()
	assert.Equal(t, "電子業", *p.Industry)
	assert.Equal(t, int64(50_000_000), *p.CapitalAmount)
	assert.Equal(t, 10, *p.InventionPatentCount)
	assert.Equal(t, 5, *p.UtilityPatentCount)
	assert.Nil(t, p.CertificationCount)

	assert.False(t, res.Completed)
	assert.Contains(t, res.ResponseText, "已記錄 產業別：電子業")
	assert.Contains(t, res.ResponseText, models.PromptFor(models.FieldCertificationCount))
	assert.Equal(t, 4, res.Progress.FieldsCompleted)
	assert.Equal(t, models.FieldCertificationCount, res.Progress.NextField)
	assert.Equal(t, models.PhaseCollectingFields, res.Progress.Phase)

	turns := h.store.turnsOf(res.SessionID)
	require.Len(t, turns, 2)
	assert.Equal(t, models.ChatRoleUser, turns[0].Role)
	assert.Equal(t, models.ChatRoleAssistant, turns[1].Role)
	assert.Equal(t, res.ResponseText, turns[1].Content)
}

func TestProcessTurn_OracleTextIsKept(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.respond("收到！請問資本額是多少？", updateCall(map[string]any{"industry": "食品業"}))

	res := h.send("我們是食品業")
	assert.Equal(t, "收到！請問資本額是多少？", res.ResponseText)
	assert.Equal(t, "食品業", *h.current().Industry)
}

func TestProcessTurn_OracleReceivesHistory(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.respond("第一個回覆")
	first := h.send("第一句")
	h.respond("第二個回覆")
	h.send("第二句")

	req := h.caller.LastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "第一句", req.Messages[0].Content)
	assert.Equal(t, "第一個回覆", req.Messages[1].Content)
	assert.Equal(t, "第二句", req.Messages[2].Content)
	assert.Len(t, h.store.turnsOf(first.SessionID), 4)
}

func TestProcessTurn_OracleFailureContainment(t *testing.T) {
	tests := []struct {
		name    string
		respond func(context.Context, *llm.ToolRequest) (*llm.ToolResponse, error)
	}{
		{"provider error", func(context.Context, *llm.ToolRequest) (*llm.ToolResponse, error) {
			return nil, errors.New("HTTP 500 internal error")
		}},
		{"unknown field", llm.RespondWith("", updateCall(map[string]any{"employees": 30}))},
		{"product without name", llm.RespondWith("", llm.NewMockToolCall(models.ToolAddProduct, map[string]any{"product_id": "P1"}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newChatbotHarness(t, config.StrategyOracle)
			h.respond("", updateCall(map[string]any{"industry": "電子業"}))
			first := h.send("電子業")
			before := h.current()

			h.caller.CallToolsFunc = tt.respond
			res := h.send("資本額5000萬，產品很多")

			assert.Equal(t, oracleApology, res.ResponseText)
			assert.False(t, res.Completed)
			assert.Equal(t, before, h.current(), "profile must be unchanged")
			assert.Empty(t, h.store.products)
			assert.Equal(t, models.FieldCapitalAmount, res.Progress.NextField)

			turns := h.store.turnsOf(first.SessionID)
			require.Len(t, turns, 4)
			assert.Equal(t, "資本額5000萬，產品很多", turns[2].Content)
			assert.Equal(t, oracleApology, turns[3].Content)
		})
	}
}

func TestProcessTurn_OracleProductsAndCompletion(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	ctx := context.Background()

	h.respond("", allFieldsCall())
	res := h.send("公司資料如下……")
	assert.Equal(t, models.PhaseCollectingProducts, res.Progress.Phase)
	assert.Contains(t, res.ResponseText, productPhaseMarker)

	h.respond("", llm.NewMockToolCall(models.ToolAddProduct, map[string]any{"product_id": "PROD001", "product_name": "精密軸承"}))
	res = h.send("產品 PROD001 精密軸承")
	assert.Contains(t, res.ResponseText, "產品「精密軸承」")
	assert.Contains(t, res.ResponseText, productAddedFollowUp)

	h.respond("", llm.NewMockToolCall(models.ToolAddProduct, map[string]any{"product_id": "PROD001", "product_name": "高精密軸承", "price": 1200}))
	res = h.send("PROD001 改名為高精密軸承，價格1200")
	assert.Equal(t, 1, res.Progress.ProductsCount)

	products, _ := h.store.productRepo().ListByProfile(ctx, h.current().ID)
	require.Len(t, products, 1)
	assert.Equal(t, "高精密軸承", products[0].Name)
	assert.Equal(t, "1200", products[0].Price)

	h.respond("", llm.NewMockToolCall(models.ToolMarkCompleted, map[string]any{"completed": true}))
	res = h.send("沒有了，完成")
	assert.True(t, res.Completed)
	assert.Equal(t, models.PhaseCompleted, res.Progress.Phase)
	assert.Contains(t, res.ResponseText, "太棒了")
	assert.Contains(t, res.ResponseText, "產品數量：1 個")

	session, err := h.store.sessionRepo().Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.NotNil(t, session.CompletedAt)

	// A completed session is terminal.
	turnsBefore := len(h.store.turnsOf(res.SessionID))
	_, err = h.svc.ProcessTurn(ctx, h.userID, &res.SessionID, "再加一個產品")
	assert.ErrorIs(t, err, apperrors.ErrSessionCompleted)
	assert.Len(t, h.store.turnsOf(res.SessionID), turnsBefore)

	// Without a session id the user continues in a fresh copy.
	h.respond("好的")
	next := h.send("我要更新資料")
	assert.NotEqual(t, res.SessionID, next.SessionID)
	assert.Equal(t, 6, next.Progress.FieldsCompleted)
	assert.Equal(t, 1, next.Progress.ProductsCount)
}

func TestProcessTurn_MergeFailureRollsBack(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.respond("", updateCall(map[string]any{"industry": "電子業"}))
	first := h.send("電子業")
	before := h.current()

	h.store.updateFieldsErr = errors.New("connection reset by peer")
	h.respond("",
		llm.NewMockToolCall(models.ToolAddProduct, map[string]any{"product_name": "螺絲"}),
		updateCall(map[string]any{"capital_amount": 1000}),
	)
	_, err := h.svc.ProcessTurn(context.Background(), h.userID, nil, "資本額1000，產品螺絲")
	require.Error(t, err)

	assert.Equal(t, before, h.current())
	assert.Empty(t, h.store.products, "product insert is rolled back with the field update")

	turns := h.store.turnsOf(first.SessionID)
	require.Len(t, turns, 3, "user turn kept for audit, no confirmation stored")
	assert.Equal(t, models.ChatRoleUser, turns[2].Role)
}

func TestProcessTurn_AssistantTurnFailureRollsBack(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.store.appendTurnErr = func(turn *models.Turn) error {
		if turn.Role == models.ChatRoleAssistant {
			return errors.New("insert failed")
		}
		return nil
	}
	h.respond("", updateCall(map[string]any{"industry": "電子業"}))

	_, err := h.svc.ProcessTurn(context.Background(), h.userID, nil, "電子業")
	require.Error(t, err)
	assert.Nil(t, h.current().Industry)
}

// ============================================================================
// Slot strategy
// ============================================================================

func TestProcessTurn_SlotWalkthrough(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)

	res := h.send("1")
	assert.Contains(t, res.ResponseText, models.PromptFor(models.FieldIndustry))
	assert.Equal(t, models.PhaseCollectingFields, res.Progress.Phase)

	steps := []struct {
		message string
		next    models.FieldKey
	}{
		{"電子業", models.FieldCapitalAmount},
		{"5000萬", models.FieldInventionPatentCount},
		{"10件", models.FieldUtilityPatentCount},
		{"5", models.FieldCertificationCount},
		{"2份", models.FieldESGCertification},
	}
	for _, step := range steps {
		res = h.send(step.message)
		assert.Contains(t, res.ResponseText, "已記錄")
		assert.Contains(t, res.ResponseText, models.PromptFor(step.next), step.message)
		assert.Equal(t, step.next, res.Progress.NextField)
	}

	res = h.send("有，ISO 14064")
	assert.Contains(t, res.ResponseText, productPhaseMarker)
	assert.True(t, res.Progress.CompanyInfoComplete)

	res = h.send("我不知道")
	assert.True(t, strings.HasPrefix(res.ResponseText, notUnderstoodPrefix))

	res = h.send("產品ID：PROD001\n產品名稱：精密軸承\n價格：1200")
	assert.Contains(t, res.ResponseText, "產品「精密軸承」已新增成功")
	assert.Equal(t, 1, res.Progress.ProductsCount)

	res = h.send("產品ID：PROD001\n產品名稱：高精密軸承")
	assert.Contains(t, res.ResponseText, "產品「高精密軸承」已更新成功")
	assert.Equal(t, 1, res.Progress.ProductsCount)

	res = h.send("完成")
	assert.True(t, res.Completed)
	assert.Contains(t, res.ResponseText, "太棒了")
	assert.Contains(t, res.ResponseText, "✅ 資本總額：50,000,000 臺幣")
	assert.Contains(t, res.ResponseText, "✅ ESG相關認證資料：有（1 份）：ISO 14064")

	p := h.current()
	assert.Equal(t, "電子業", *p.Industry)
	assert.Equal(t, 2, *p.CertificationCount)
	assert.Equal(t, 1, *p.ESGCertificationCount)
	assert.Zero(t, h.caller.Calls(), "slot filling never calls the oracle")
}

func TestProcessTurn_SlotReprompts(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)
	h.send("開始")
	h.send("鋼鐵業")

	res := h.send("還沒確定")
	assert.Equal(t, notUnderstoodPrefix+models.PromptFor(models.FieldCapitalAmount), res.ResponseText)
	assert.Nil(t, h.current().CapitalAmount)
	assert.Equal(t, models.FieldCapitalAmount, res.Progress.NextField)
}

func TestProcessTurn_SlotMenu(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)
	res := h.send("你好")
	assert.Equal(t, greetingMenu, res.ResponseText)
	assert.Nil(t, h.current().Industry, "menu turn is not field data")
}

func TestProcessTurn_SlotMenuProgress(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)
	res := h.send("2")
	assert.Contains(t, res.ResponseText, "目前進度：已完成 0 / 6 個欄位")
}

// A finish word only completes after the product question was asked.
func TestProcessTurn_SlotFinishNeedsProductPrompt(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)
	ctx := context.Background()

	session, profile, err := h.sessions.StartNewSession(ctx, h.userID)
	require.NoError(t, err)
	full := fullProfile()
	full.ID = profile.ID
	require.NoError(t, h.store.profileRepo().UpdateFields(ctx, full))

	res := h.send("2")
	assert.Equal(t, session.ID, res.SessionID)
	assert.NotContains(t, res.ResponseText, productPhaseMarker)

	res = h.send("完成")
	assert.False(t, res.Completed)
	assert.Equal(t, models.ProductPhasePrompt, res.ResponseText)

	res = h.send("不用")
	assert.True(t, res.Completed)
	assert.Contains(t, res.ResponseText, "產品數量：0 個")
}

func TestProcessTurn_RejectsSupersededSession(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)
	ctx := context.Background()

	first := h.send("1")
	second, _, err := h.sessions.StartNewSession(ctx, h.userID)
	require.NoError(t, err)
	require.NotEqual(t, first.SessionID, second.ID)

	turnsBefore := len(h.store.turnsOf(first.SessionID))
	_, err = h.svc.ProcessTurn(ctx, h.userID, &first.SessionID, "電子業")
	assert.ErrorIs(t, err, apperrors.ErrSessionAbandoned)

	old, err := h.store.profileRepo().GetBySession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Nil(t, old.Industry, "superseded profile stays as it was")
	assert.False(t, old.IsCurrent)
	assert.Len(t, h.store.turnsOf(first.SessionID), turnsBefore)

	session, err := h.store.sessionRepo().Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAbandoned, session.Status)
}

func TestProcessTurn_FallsBackToSlotWithoutOracle(t *testing.T) {
	h := buildChatbotHarness(t, config.StrategyOracle, false)
	res := h.send("1")
	assert.Contains(t, res.ResponseText, models.PromptFor(models.FieldIndustry))
	h.send("電子業")
	assert.Equal(t, "電子業", *h.current().Industry)
}

// ============================================================================
// Files, progress, serialization
// ============================================================================

func TestProcessFile_FeedsTruncatedText(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.respond("", updateCall(map[string]any{"industry": "電子業"}))

	text := "電子業" + strings.Repeat("字", 5000)
	res, err := h.svc.ProcessFile(context.Background(), h.userID, nil, &FileUpload{
		Filename: "intro.txt",
		MimeType: "text/plain",
		Data:     []byte(text),
	})
	require.NoError(t, err)
	assert.Equal(t, "電子業", *h.current().Industry)

	req := h.caller.LastRequest()
	sent := req.Messages[len(req.Messages)-1].Content
	assert.True(t, strings.HasPrefix(sent, "[上傳檔案: intro.txt]\n電子業"))
	assert.Equal(t, len([]rune("[上傳檔案: intro.txt]\n"))+4000, len([]rune(sent)))

	turns := h.store.turnsOf(res.SessionID)
	require.Len(t, turns, 2)
	assert.Equal(t, sent, turns[0].Content)
}

func TestProcessFile_SlotSkipsMenu(t *testing.T) {
	h := newChatbotHarness(t, config.StrategySlot)
	_, err := h.svc.ProcessFile(context.Background(), h.userID, nil, &FileUpload{
		Filename: "industry.txt",
		MimeType: "text/plain",
		Data:     []byte("精密機械業"),
	})
	require.NoError(t, err)
	assert.Equal(t, "精密機械業", *h.current().Industry)
}

func TestProcessFile_Rejections(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	ctx := context.Background()

	_, err := h.svc.ProcessFile(ctx, h.userID, nil, &FileUpload{Filename: "a.zip", MimeType: "application/zip", Data: []byte("PK")})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFileType)

	_, err = h.svc.ProcessFile(ctx, h.userID, nil, &FileUpload{Filename: "big.txt", MimeType: "text/plain", Data: make([]byte, 2<<20)})
	assert.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	_, err = h.svc.ProcessFile(ctx, h.userID, nil, &FileUpload{Filename: "blank.txt", MimeType: "text/plain", Data: []byte("  \n ")})
	assert.ErrorIs(t, err, apperrors.ErrNoTextExtracted)

	assert.Empty(t, h.store.turns)
	assert.Zero(t, h.caller.Calls())
}

func TestGetProgress(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	ctx := context.Background()

	progress, err := h.svc.GetProgress(ctx, h.userID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAwaitingFirstTurn, progress.Phase)
	assert.Equal(t, 6, progress.TotalFields)

	h.respond("", updateCall(map[string]any{"industry": "電子業", "capital_amount": 1}))
	res := h.send("電子業，資本額1元")

	progress, err = h.svc.GetProgress(ctx, h.userID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.FieldsCompleted)
	assert.Equal(t, models.PhaseCollectingFields, progress.Phase)

	bySession, err := h.svc.GetProgress(ctx, h.userID, &res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, progress, bySession)

	_, err = h.svc.GetProgress(ctx, uuid.New(), &res.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProcessTurn_SerializesPerUser(t *testing.T) {
	h := newChatbotHarness(t, config.StrategyOracle)
	h.respond("ok", updateCall(map[string]any{"industry": "電子業"}))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ProcessTurn(context.Background(), h.userID, nil, "電子業"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	require.Len(t, h.store.sessions, 1, "concurrent first turns share one session")
	turns := h.store.turnsOf(h.store.sessions[0].ID)
	require.Len(t, turns, 2*n)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Seq)
		wantRole := models.ChatRoleUser
		if i%2 == 1 {
			wantRole = models.ChatRoleAssistant
		}
		assert.Equal(t, wantRole, turn.Role)
	}
}
