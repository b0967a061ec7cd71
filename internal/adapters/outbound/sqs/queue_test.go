package sqs

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

type mockSQSClient struct {
	receive  []func() (*sqs.ReceiveMessageOutput, error)
	inputs   []*sqs.ReceiveMessageInput
	deleted  []string
	sent     []*sqs.SendMessageInput
	deleteFn func() error
}

func (m *mockSQSClient) ReceiveMessage(_ context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.inputs = append(m.inputs, params)
	if len(m.receive) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	next := m.receive[0]
	m.receive = m.receive[1:]
	return next()
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if m.deleteFn != nil {
		if err := m.deleteFn(); err != nil {
			return nil, err
		}
	}
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQSClient) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("sent-1")}, nil
}

const testQueueURL = "https://sqs.eu-west-1.amazonaws.com/123456789/executor-commands"

func message(id, receipt, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String(receipt), Body: aws.String(body)}
}

func TestNewQueue_Validation(t *testing.T) {
	if _, err := newQueue(&mockSQSClient{}, Config{}, nil); err == nil {
		t.Error("expected error for missing queue URL")
	}
	if _, err := newQueue(nil, Config{QueueURL: testQueueURL}, nil); err == nil {
		t.Error("expected error for nil client")
	}

	q, err := newQueue(&mockSQSClient{}, Config{QueueURL: testQueueURL}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.config.WaitTimeSeconds != 20 {
		t.Errorf("expected default long poll of 20s, got %d", q.config.WaitTimeSeconds)
	}
}

func TestPop_SkipsEmptyPollsAndIncompleteMessages(t *testing.T) {
	client := &mockSQSClient{
		receive: []func() (*sqs.ReceiveMessageOutput, error){
			func() (*sqs.ReceiveMessageOutput, error) { return &sqs.ReceiveMessageOutput{}, nil },
			func() (*sqs.ReceiveMessageOutput, error) {
				return &sqs.ReceiveMessageOutput{Messages: []types.Message{{MessageId: aws.String("broken")}}}, nil
			},
			func() (*sqs.ReceiveMessageOutput, error) {
				return &sqs.ReceiveMessageOutput{Messages: []types.Message{message("m-1", "r-1", `{"type":"status"}`)}}, nil
			},
		},
	}
	q, _ := newQueue(client, Config{QueueURL: testQueueURL, VisibilityTimeout: 30}, nil)

	msg, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if msg.ID != "m-1" || msg.Receipt != "r-1" || string(msg.Body) != `{"type":"status"}` {
		t.Errorf("unexpected message %+v", msg)
	}
	if len(client.inputs) != 3 {
		t.Fatalf("expected 3 receive calls, got %d", len(client.inputs))
	}
	in := client.inputs[0]
	if in.MaxNumberOfMessages != 1 || in.WaitTimeSeconds != 20 || in.VisibilityTimeout != 30 {
		t.Errorf("unexpected receive input %+v", in)
	}
}

func TestPop_ReceiveError(t *testing.T) {
	boom := errors.New("access denied")
	client := &mockSQSClient{
		receive: []func() (*sqs.ReceiveMessageOutput, error){
			func() (*sqs.ReceiveMessageOutput, error) { return nil, boom },
		},
	}
	q, _ := newQueue(client, Config{QueueURL: testQueueURL}, nil)

	if _, err := q.Pop(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped receive error, got %v", err)
	}
}

func TestPop_CancelledContext(t *testing.T) {
	q, _ := newQueue(&mockSQSClient{}, Config{QueueURL: testQueueURL}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAck_DeletesByReceipt(t *testing.T) {
	client := &mockSQSClient{}
	q, _ := newQueue(client, Config{QueueURL: testQueueURL}, nil)

	if err := q.Ack(context.Background(), outbound.QueueMessage{ID: "m-1", Receipt: "r-1"}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "r-1" {
		t.Errorf("expected receipt r-1 to be deleted, got %v", client.deleted)
	}

	if err := q.Ack(context.Background(), outbound.QueueMessage{ID: "m-2"}); err == nil {
		t.Error("expected error for message without receipt")
	}
}

func TestPush_SetsGroupForFIFO(t *testing.T) {
	client := &mockSQSClient{}
	q, _ := newQueue(client, Config{QueueURL: testQueueURL + ".fifo", MessageGroupID: "acct-1"}, nil)

	if err := q.Push(context.Background(), []byte(`{"type":"panic"}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sent := client.sent[0]
	if aws.ToString(sent.MessageBody) != `{"type":"panic"}` {
		t.Errorf("unexpected body %q", aws.ToString(sent.MessageBody))
	}
	if aws.ToString(sent.MessageGroupId) != "acct-1" {
		t.Errorf("expected group id, got %q", aws.ToString(sent.MessageGroupId))
	}
}
