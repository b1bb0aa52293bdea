package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/gathertown/grapevine"
	"github.com/gathertown/grapevine/pkg/job"
)

// newEnqueueCmd creates the enqueue command
func newEnqueueCmd() *cobra.Command {
	var jobType string
	var tenantID string
	var source string
	var payloadJSON string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a job",
		Long:  `Wraps a payload into a job, assigns it a lane, and sends it to the queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd.Context(), jobType, tenantID, source, payloadJSON)
		},
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type (webhook, backfill, reindex, index, delete, tenant_data_deletion, control)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source connector (required for backfill, index, reindex)")
	cmd.Flags().StringVarP(&payloadJSON, "payload", "p", "{}", "Job payload as JSON")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runEnqueue(ctx context.Context, jobType, tenantID, source, payloadJSON string) error {
	parsedType, err := job.ParseType(jobType)
	if err != nil {
		return err
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("invalid payload JSON: %w", err)
	}

	client, err := createQueueClient(ctx)
	if err != nil {
		return err
	}

	enqueuer := grapevine.NewEnqueuer(client, grapevine.NewLaneAssigner(),
		grapevine.WithEnqueuerLogger(logger),
	)

	messageID, err := enqueuer.Enqueue(ctx, job.Wrap(parsedType, tenantID, source, payload))
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued job: %s\n", messageID)
	return nil
}

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display queue status",
		Long:  `Shows the approximate number of visible and in-flight messages on the configured queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	client, err := createQueueClient(ctx)
	if err != nil {
		return err
	}

	visible, inFlight, err := client.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	fmt.Printf("\n=== Queue Status ===\n")
	fmt.Printf("Queue: %s\n", client.QueueName())
	fmt.Printf("Visible messages: %d\n", visible)
	fmt.Printf("In-flight messages: %d\n", inFlight)
	fmt.Printf("====================\n\n")
	return nil
}

// newTestConnectionCmd creates the test-connection command
func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Test AWS SQS connection",
		Long:  `Validates AWS credentials and connectivity to SQS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestConnection(cmd.Context())
		},
	}
}

func runTestConnection(ctx context.Context) error {
	fmt.Println("Testing AWS SQS connection...")

	sqsClient, err := createSQSClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create SQS client: %w", err)
	}

	_, err = sqsClient.ListQueues(ctx, &sqs.ListQueuesInput{
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	fmt.Println("Connection successful!")
	fmt.Printf("Region: %s\n", cfg.AWS.Region)
	if cfg.Queue.QueueARN != "" {
		fmt.Printf("Queue ARN: %s\n", cfg.Queue.QueueARN)
	}
	return nil
}
