package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []string
	fail error
}

func (r *recorder) Notify(_ context.Context, userID, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, userID+":"+subject)
	return r.fail
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	rec := &recorder{fail: errors.New("sink down")}
	d := NewDispatcher(rec, 8, nil)

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, d.Notify(context.Background(), u, "hello", ""))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, []string{"alice:hello", "bob:hello", "carol:hello"}, rec.messages())
}

func TestDispatcherNeverBlocks(t *testing.T) {
	d := NewDispatcher(&recorder{}, 1, nil)
	require.NoError(t, d.Notify(context.Background(), "alice", "one", ""))
	assert.ErrorIs(t, d.Notify(context.Background(), "alice", "two", ""), ErrQueueFull)
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{fail: errors.New("nope")}
	err := Multi{ok, bad}.Notify(context.Background(), "alice", "s", "b")
	assert.EqualError(t, err, "nope")
	assert.Len(t, ok.messages(), 1)
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := ParseWebhookURL("https://discord.com/api/webhooks/123456/abc-DEF")
	require.NoError(t, err)
	assert.Equal(t, "123456", id)
	assert.Equal(t, "abc-DEF", token)

	_, _, err = ParseWebhookURL("https://discord.com/api/channels/1")
	assert.Error(t, err)
}

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
}

func (f *fakeWebhook) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = webhookID, token, data
	return nil, nil
}

func TestDiscordNotifierBuildsEmbed(t *testing.T) {
	fake := &fakeWebhook{}
	n := &DiscordNotifier{session: fake, webhookID: "1", token: "t", username: "corpsim"}

	require.NoError(t, n.Notify(context.Background(), "alice", "Proposal #4 passed", strings.Repeat("x", 3000)))
	assert.Equal(t, "1", fake.id)
	require.Len(t, fake.params.Embeds, 1)
	assert.Equal(t, "Proposal #4 passed", fake.params.Embeds[0].Title)
	assert.Len(t, fake.params.Embeds[0].Description, discordContentLimit)
	assert.Equal(t, "to alice", fake.params.Embeds[0].Footer.Text)
}

func TestDiscordNotifierTruncatesOnRuneBoundary(t *testing.T) {
	fake := &fakeWebhook{}
	n := &DiscordNotifier{session: fake, webhookID: "1", token: "t"}

	require.NoError(t, n.Notify(context.Background(), "bob", strings.Repeat("é", 300), strings.Repeat("€", 2500)))
	embed := fake.params.Embeds[0]
	assert.True(t, utf8.ValidString(embed.Title))
	assert.True(t, utf8.ValidString(embed.Description))
	assert.Equal(t, discordTitleLimit, utf8.RuneCountInString(embed.Title))
	assert.Equal(t, discordContentLimit, utf8.RuneCountInString(embed.Description))
	assert.True(t, strings.HasSuffix(embed.Description, "€..."))

	require.NoError(t, n.Notify(context.Background(), "bob", "short", "ünïcode"))
	assert.Equal(t, "ünïcode", fake.params.Embeds[0].Description)
}
