package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chat-translator/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastQueryIn  *dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeItem(sk, text, answer, outcome string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK":      &types.AttributeValueMemberS{Value: sk},
		"text":    &types.AttributeValueMemberS{Value: text},
		"answer":  &types.AttributeValueMemberS{Value: answer},
		"outcome": &types.AttributeValueMemberS{Value: outcome},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.ErrorContains(t, err, "must not be nil")

	_, err = New(&fakeDynamo{}, " ")
	require.ErrorContains(t, err, "table name")
}

// ---------------------------------------------------------------------------
// LoadTurns
// ---------------------------------------------------------------------------

func TestLoadTurns_ChronologicalAndExpanded(t *testing.T) {
	// Query returns newest first.
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeItem("MSG#3", "Bonjour", "", string(domain.OutcomeNoTranslation)),
		makeItem("MSG#2", "Hola", "Hello", string(domain.OutcomeTranslated)),
	}}}
	c := mustNewClient(t, db)

	turns, err := c.LoadTurns(context.Background(), "abc", 10)
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "Hola"},
		{Role: domain.RoleAssistant, Content: "Hello"},
		{Role: domain.RoleUser, Content: "Bonjour"},
	}, turns)

	in := db.lastQueryIn
	require.NotNil(t, in)
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(10), *in.Limit)
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
	require.Equal(t, "CONV#abc", pk.Value)
}

func TestLoadTurns_TrimsToLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeItem("MSG#2", "u2", "a2", string(domain.OutcomeTranslated)),
		makeItem("MSG#1", "u1", "a1", string(domain.OutcomeTranslated)),
	}}}
	c := mustNewClient(t, db)

	turns, err := c.LoadTurns(context.Background(), "abc", 3)
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "u2"},
		{Role: domain.RoleAssistant, Content: "a2"},
	}, turns, "a partial exchange is dropped rather than split")
}

func TestLoadTurns_KeepsWholeExchangesUpToLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeItem("MSG#4", "u4", "", string(domain.OutcomeNoTranslation)),
		makeItem("MSG#3", "u3", "a3", string(domain.OutcomeTranslated)),
		makeItem("MSG#2", "u2", "", string(domain.OutcomeNoTranslation)),
		makeItem("MSG#1", "u1", "a1", string(domain.OutcomeTranslated)),
	}}}
	c := mustNewClient(t, db)

	turns, err := c.LoadTurns(context.Background(), "abc", 4)
	require.NoError(t, err)
	require.Equal(t, []string{"u2", "u3", "a3", "u4"}, contentsOf(turns))
	require.Equal(t, domain.RoleUser, turns[0].Role)
	require.True(t, *db.lastQueryIn.ConsistentRead)
}

func TestMsgSK_SortsChronologically(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(550 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Second + time.Nanosecond),
	}
	for i := 1; i < len(times); i++ {
		earlier, later := msgSK(times[i-1]), msgSK(times[i])
		require.Less(t, earlier, later)
		require.Len(t, later, len(earlier))
	}

	local := time.FixedZone("UTC+2", 2*60*60)
	require.Equal(t, msgSK(base), msgSK(base.In(local)))
}

func TestLoadTurns_ZeroLimit(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	turns, err := c.LoadTurns(context.Background(), "abc", 0)
	require.NoError(t, err)
	require.Empty(t, turns)
	require.Nil(t, db.lastQueryIn)
}

func TestLoadTurns_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	_, err := c.LoadTurns(context.Background(), "abc", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "LoadTurns")
}

func TestLoadTurns_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
		"PK": &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#1"},
	}}}}
	c := mustNewClient(t, db)
	_, err := c.LoadTurns(context.Background(), "abc", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

// ---------------------------------------------------------------------------
// SaveExchange
// ---------------------------------------------------------------------------

func TestSaveExchange_Translated(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := c.SaveExchange(context.Background(), domain.Exchange{
		ConversationID: "abc",
		User:           domain.Turn{Role: domain.RoleUser, Content: "Hola"},
		Assistant:      &domain.Turn{Role: domain.RoleAssistant, Content: "Hello"},
		Outcome:        domain.OutcomeTranslated,
		CreatedAt:      at,
	})
	require.NoError(t, err)

	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "test-table", *put.TableName)
	require.Equal(t, "MSG#2026-03-01T10:00:00.000000000Z", put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Hello", put.Item["answer"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "translated", put.Item["outcome"].(*types.AttributeValueMemberS).Value)

	update := db.lastTxInput.TransactItems[1].Update
	require.NotNil(t, update)
	require.Equal(t, skMeta, update.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1", update.ExpressionAttributeValues[":tr"].(*types.AttributeValueMemberN).Value)
}

func TestSaveExchange_NoTranslationDoesNotCountTranslation(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveExchange(context.Background(), domain.Exchange{
		ConversationID: "abc",
		User:           domain.Turn{Role: domain.RoleUser, Content: "Bonjour"},
		Outcome:        domain.OutcomeNoTranslation,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	update := db.lastTxInput.TransactItems[1].Update
	require.Equal(t, "0", update.ExpressionAttributeValues[":tr"].(*types.AttributeValueMemberN).Value)
	put := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "", put.Item["answer"].(*types.AttributeValueMemberS).Value)
}

func TestSaveExchange_MissingConversationID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveExchange(context.Background(), domain.Exchange{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "conversation id")
}

func TestSaveExchange_TransactionError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("TransactionCanceledException")}
	c := mustNewClient(t, db)
	err := c.SaveExchange(context.Background(), domain.Exchange{
		ConversationID: "abc",
		User:           domain.Turn{Role: domain.RoleUser, Content: "Hola"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveExchange")
}

// ---------------------------------------------------------------------------
// GetStats
// ---------------------------------------------------------------------------

func TestGetStats_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"exchanges":    &types.AttributeValueMemberN{Value: "7"},
		"translations": &types.AttributeValueMemberN{Value: "3"},
		"lastActivity": &types.AttributeValueMemberS{Value: "2026-03-01T10:00:00Z"},
	}}}
	c := mustNewClient(t, db)

	stats, err := c.GetStats(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 7, stats.Exchanges)
	require.Equal(t, 3, stats.Translations)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), stats.LastActivity)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetStats_MissingMeta(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	stats, err := c.GetStats(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, Stats{ConversationID: "abc"}, stats)
}

func TestGetStats_MalformedCounter(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"exchanges": &types.AttributeValueMemberS{Value: "bad"},
	}}}
	c := mustNewClient(t, db)
	_, err := c.GetStats(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode exchanges")
}

func TestGetStats_GetItemError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.GetStats(context.Background(), "abc")
	require.ErrorContains(t, err, "boom")
}

func contentsOf(turns []domain.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}
