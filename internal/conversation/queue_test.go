package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_BatchesAvailableMessages(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, outgoingMessage{GroupID: "p1", Body: body}))
	}
	assert.Equal(t, 3, q.Len())

	msgs, err := q.Receive(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "b", msgs[1].Body)
	assert.NotEmpty(t, msgs[0].ReceiptHandle)

	msgs, err = q.Receive(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", msgs[0].Body)
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestMemoryQueue_ReceiveHonoursCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []string
	messages []types.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue_FIFOSetsMessageGroup(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.ap-south-1.amazonaws.com/123/bookings.fifo")

	require.NoError(t, q.Send(context.Background(), outgoingMessage{
		GroupID:  "919876543210",
		DedupeID: "wamid.abc",
		Kind:     jobTypeInbound,
		Body:     "{}",
	}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "919876543210", aws.ToString(api.sent[0].MessageGroupId))
	assert.Equal(t, "wamid.abc", aws.ToString(api.sent[0].MessageDeduplicationId))
	assert.Equal(t, string(jobTypeInbound), aws.ToString(api.sent[0].MessageAttributes[sqsKindAttribute].StringValue))
}

func TestSQSQueue_HashesLongDedupeID(t *testing.T) {
	long := strings.Repeat("x", sqsMaxDedupeID+1)
	got := fifoDedupeID(long)
	assert.Len(t, got, 64)
	assert.Equal(t, got, fifoDedupeID(long))
	assert.Equal(t, "wamid.short", fifoDedupeID("wamid.short"))
}

func TestMemoryQueue_KeepsDedupeIDAsMessageID(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Send(context.Background(), outgoingMessage{DedupeID: "wamid.abc", Body: "{}"}))

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "wamid.abc", msgs[0].ID)
}

func TestSQSQueue_StandardQueueOmitsGroup(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.ap-south-1.amazonaws.com/123/bookings")

	require.NoError(t, q.Send(context.Background(), outgoingMessage{GroupID: "919876543210", DedupeID: "wamid.abc", Body: "{}"}))
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
	assert.Empty(t, api.sent[0].MessageAttributes)
}

func TestSQSQueue_ReceiveAndDelete(t *testing.T) {
	api := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String(`{"kind":"x"}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	q := newSQSQueue(api, "https://queue")

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh-1"}, api.deleted)
}
