package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/upload"
)

var importUploadID int64

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx|file.csv>",
	Short: "Import uploaded leads into the store",
	Long:  "Reads a CSV or XLSX file whose header names the name, company, website and email columns (email_2 and email_3 optional) and stores the rows under the given upload id. Rows sharing a website are merged and repeated addresses within a row are collapsed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if importUploadID <= 0 {
			return eris.New("--upload must be a positive upload id")
		}

		records, err := upload.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "import")
		}
		if len(records) == 0 {
			return eris.Errorf("import: no rows in %s", args[0])
		}

		st, err := openStore(ctx, "import")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.InsertRecords(ctx, importUploadID, records)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.Int64("upload_id", importUploadID),
			zap.Int("inserted", n),
			zap.String("file", args[0]),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().Int64Var(&importUploadID, "upload", 0, "upload id to store the rows under (required)")
	_ = importCmd.MarkFlagRequired("upload")
	rootCmd.AddCommand(importCmd)
}
