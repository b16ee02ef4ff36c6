package router

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/llm"
	"github.com/chainclaw/chainclaw/internal/intent"
	"github.com/chainclaw/chainclaw/internal/memory"
	"github.com/chainclaw/chainclaw/internal/runtime"
	"github.com/chainclaw/chainclaw/internal/skills"
	"github.com/chainclaw/chainclaw/internal/wallet"
	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/models"
)

type capture struct {
	replies []string
}

func (c *capture) send(text string) { c.replies = append(c.replies, text) }

func (c *capture) last(t *testing.T) string {
	t.Helper()
	if len(c.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return c.replies[len(c.replies)-1]
}

func channelCtx(c *capture) *ChannelContext {
	return &ChannelContext{
		UserID:    "user-1",
		ChannelID: "chan-1",
		Platform:  "test",
		SendReply: c.send,
	}
}

type fixture struct {
	router  *Router
	wallets *wallet.Manager
}

// newFixture wires a router with an in-memory store, a temp keystore
// and an optional scripted LLM driving the runtime.
func newFixture(t *testing.T, provider llm.Provider, register ...*skills.Skill) *fixture {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	wallets, err := wallet.NewManager(t.TempDir(), "test-password-1")
	if err != nil {
		t.Fatalf("failed to open keystore: %v", err)
	}

	reg := skills.NewRegistry()
	for _, s := range register {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.Name, err)
		}
	}

	conversations := memory.NewConversationRepository(db)
	prefs := memory.NewPreferencesRepository(db)

	var rt *runtime.Runtime
	if provider != nil {
		rt = runtime.New(conversations, intent.NewParser(provider, reg), reg)
	}
	return &fixture{
		router:  New(rt, reg, wallets, prefs, conversations, []int64{1}),
		wallets: wallets,
	}
}

func echoSkill(name, message string) *skills.Skill {
	return &skills.Skill{
		Name:        name,
		Description: "test " + name,
		Schema:      skills.Schema{},
		Handler: func(_ context.Context, _ map[string]interface{}, _ *skills.Context) (*skills.Result, error) {
			return &skills.Result{Success: true, Message: message}, nil
		},
	}
}

func TestLimiter(t *testing.T) {
	l := newRateLimiter()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < bucketCapacity; i++ {
		if !l.Allow("u") {
			t.Fatalf("call %d denied inside burst", i+1)
		}
	}
	if l.Allow("u") {
		t.Fatal("burst exceeded but allowed")
	}
	if !l.Allow("other") {
		t.Fatal("independent user throttled")
	}

	now = now.Add(refillInterval)
	if !l.Allow("u") {
		t.Fatal("token not refilled after interval")
	}
	if l.Allow("u") {
		t.Fatal("single refilled token allowed twice")
	}
}

func TestDispatchStart(t *testing.T) {
	f := newFixture(t, nil)
	c := &capture{}

	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/start"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	reply := c.last(t)
	if !strings.Contains(reply, "Setup Guide") || !strings.Contains(reply, "Create a wallet") {
		t.Fatalf("onboarding reply = %q", reply)
	}

	if _, err := f.wallets.Create(context.Background(), "user-1"); err != nil {
		t.Fatalf("Create wallet: %v", err)
	}
	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/start"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "Welcome back") {
		t.Fatalf("returning-user reply = %q", c.last(t))
	}
}

func TestDispatchHelp(t *testing.T) {
	f := newFixture(t, nil, echoSkill("swap", "ok"), echoSkill("balance", "ok"))
	c := &capture{}

	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/help"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	reply := c.last(t)
	for _, want := range []string{"/wallet", "swap", "balance"} {
		if !strings.Contains(reply, want) {
			t.Errorf("help missing %q:\n%s", want, reply)
		}
	}
}

func TestDispatchWallet(t *testing.T) {
	f := newFixture(t, nil)
	c := &capture{}
	cc := channelCtx(c)

	if err := f.router.Dispatch(context.Background(), cc, "/wallet list"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "no wallets") {
		t.Fatalf("empty list reply = %q", c.last(t))
	}

	if err := f.router.Dispatch(context.Background(), cc, "/wallet create"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "Wallet created: 0x") {
		t.Fatalf("create reply = %q", c.last(t))
	}

	if err := f.router.Dispatch(context.Background(), cc, "/wallet list"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "(default)") {
		t.Fatalf("list reply = %q", c.last(t))
	}

	if err := f.router.Dispatch(context.Background(), cc, "/wallet default nonsense"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "doesn't look like an address") {
		t.Fatalf("bad address reply = %q", c.last(t))
	}
}

func TestDispatchBalanceCommand(t *testing.T) {
	f := newFixture(t, nil, echoSkill("balance", "💰 1.0000 ETH"))
	c := &capture{}

	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/balance"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if c.last(t) != "💰 1.0000 ETH" {
		t.Fatalf("reply = %q", c.last(t))
	}
}

func TestDispatchClear(t *testing.T) {
	f := newFixture(t, nil)
	c := &capture{}

	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/clear"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "cleared") {
		t.Fatalf("reply = %q", c.last(t))
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	f := newFixture(t, nil)
	c := &capture{}

	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/teleport"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "Unknown command /teleport") {
		t.Fatalf("reply = %q", c.last(t))
	}
}

func TestDispatchFreeTextWithoutRuntime(t *testing.T) {
	f := newFixture(t, nil)
	c := &capture{}

	err := f.router.Dispatch(context.Background(), channelCtx(c), "swap 1 eth to usdc")
	if err == nil {
		t.Fatal("expected config error")
	}
	if errs.Classify(err) != errs.ClassConfig {
		t.Fatalf("class = %s", errs.Classify(err))
	}
	if !strings.Contains(c.last(t), "no LLM provider") {
		t.Fatalf("reply = %q", c.last(t))
	}
}

func TestDispatchFreeText(t *testing.T) {
	args, err := json.Marshal(map[string]interface{}{
		"intents": []map[string]interface{}{
			{"action": "balance", "params": map[string]interface{}{}, "confidence": 0.9},
		},
		"clarificationNeeded": false,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	provider := &llm.MockProvider{Responses: []*llm.Response{{
		ToolCalls: []llm.ToolCall{{Name: "parse_intent", Arguments: args}},
	}}}
	f := newFixture(t, provider, echoSkill("balance", "💰 1.0000 ETH"))
	c := &capture{}

	if err := f.router.Dispatch(context.Background(), channelCtx(c), "what do I hold?"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "ETH") {
		t.Fatalf("reply = %q", c.last(t))
	}
}

func TestDispatchRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Unix(2000, 0)
	f.router.limiter.now = func() time.Time { return now }
	c := &capture{}
	cc := channelCtx(c)

	for i := 0; i < bucketCapacity; i++ {
		if err := f.router.Dispatch(context.Background(), cc, "/help"); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}
	if err := f.router.Dispatch(context.Background(), cc, "/help"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(c.last(t), "too quickly") {
		t.Fatalf("reply = %q", c.last(t))
	}
}

func TestSkillContextWalletAndPrefs(t *testing.T) {
	var got *skills.Context
	probe := &skills.Skill{
		Name:        "balance",
		Description: "probe",
		Schema:      skills.Schema{},
		Handler: func(_ context.Context, _ map[string]interface{}, sc *skills.Context) (*skills.Result, error) {
			got = sc
			return &skills.Result{Success: true, Message: "ok"}, nil
		},
	}
	f := newFixture(t, nil, probe)
	addr, err := f.wallets.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create wallet: %v", err)
	}

	c := &capture{}
	if err := f.router.Dispatch(context.Background(), channelCtx(c), "/balance"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got == nil {
		t.Fatal("skill not invoked")
	}
	if got.WalletAddress != addr.Hex() {
		t.Fatalf("wallet = %q, want %q", got.WalletAddress, addr.Hex())
	}
	if got.Prefs.DefaultChainID != models.DefaultPreferences("user-1").DefaultChainID {
		t.Fatalf("prefs chain = %d", got.Prefs.DefaultChainID)
	}
	if len(got.ChainIDs) != 1 || got.ChainIDs[0] != 1 {
		t.Fatalf("chain ids = %v", got.ChainIDs)
	}
}
