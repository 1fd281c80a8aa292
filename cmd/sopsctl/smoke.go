package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

// databaseCredentials matches the JSON the RDS-managed secret stores.
type databaseCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
}

func newSmokeCmd() *cobra.Command {
	var (
		environment string
		region      string
		timeout     time.Duration
		skipDB      bool
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Verify deployed secrets and database connectivity",
		Long: `Smoke checks that the application and database secrets exist in
Secrets Manager for the environment, then opens a connection to the
Aurora cluster using the stored credentials and pings it. Run it from
a network with reach to the cluster, such as a bastion or CI runner
inside the VPC.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runSmoke(ctx, environment, region, skipDB)
		},
	}

	cmd.Flags().StringVar(&environment, "env", "dev", "Environment to check")
	cmd.Flags().StringVar(&region, "region", "", "AWS region, defaults to the SDK chain")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	cmd.Flags().BoolVar(&skipDB, "skip-db", false, "Only check that the secrets exist")

	return cmd
}

func runSmoke(ctx context.Context, environment, region string, skipDB bool) error {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return fmt.Errorf("creating AWS session: %w", err)
	}
	sm := secretsmanager.New(sess)

	appSecretID := fmt.Sprintf("testapp/%s/application", environment)
	if _, err := sm.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(appSecretID),
	}); err != nil {
		return fmt.Errorf("reading application secret %s: %w", appSecretID, err)
	}
	fmt.Printf("ok: application secret %s\n", appSecretID)

	dbSecretID := fmt.Sprintf("testapp/%s/database", environment)
	dbSecret, err := sm.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(dbSecretID),
	})
	if err != nil {
		return fmt.Errorf("reading database secret %s: %w", dbSecretID, err)
	}
	fmt.Printf("ok: database secret %s\n", dbSecretID)

	if skipDB {
		return nil
	}

	var creds databaseCredentials
	if err := json.Unmarshal([]byte(aws.StringValue(dbSecret.SecretString)), &creds); err != nil {
		return fmt.Errorf("parsing database secret: %w", err)
	}
	if err := pingDatabase(ctx, creds); err != nil {
		return err
	}
	fmt.Printf("ok: database %s:%d/%s reachable\n", creds.Host, creds.Port, creds.DBName)
	return nil
}

func pingDatabase(ctx context.Context, creds databaseCredentials) error {
	conn, err := pgx.Connect(ctx, connString(creds))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

func connString(creds databaseCredentials) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(creds.Username),
		url.QueryEscape(creds.Password),
		creds.Host,
		creds.Port,
		creds.DBName,
	)
}
