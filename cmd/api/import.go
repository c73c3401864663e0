package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appuploads "github.com/bryanwahyu/permeo/internal/application/uploads"
	"github.com/bryanwahyu/permeo/internal/infra/awsimport"
)

var (
	importProfile string
	importName    string
	importManaged bool
)

var importCmd = &cobra.Command{
	Use:   "import-aws",
	Short: "Snapshot a live AWS account's IAM configuration into a new upload",
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importProfile, "profile", "", "shared AWS config profile (default chain if empty)")
	importCmd.Flags().StringVar(&importName, "name", "", "upload name (default: aws-<profile>-<date>)")
	importCmd.Flags().BoolVar(&importManaged, "include-aws-managed", false, "also import AWS managed policies")
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	collector, err := awsimport.NewFromProfile(ctx, importProfile)
	if err != nil {
		return err
	}
	collector.IncludeAWSManaged = importManaged

	snap, err := collector.Collect(ctx)
	if err != nil {
		return err
	}

	name := importName
	if name == "" {
		profile := importProfile
		if profile == "" {
			profile = "default"
		}
		name = fmt.Sprintf("aws-%s-%s", profile, time.Now().UTC().Format("20060102-150405"))
	}
	u, err := a.uploads.Create(ctx, appuploads.CreateCommand{
		Name:             name,
		OriginalFilename: "GetAccountAuthorizationDetails",
		Data:             snap,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d users, %d roles, %d policies, %d groups as upload %s\n",
		len(snap.Users), len(snap.Roles), len(snap.Policies), len(snap.Groups), u.ID)
	return nil
}
