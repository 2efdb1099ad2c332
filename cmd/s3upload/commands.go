package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

func newUploadCommand(a *app) *cobra.Command {
	var (
		contentType string
		cacheClass  string
		metadata    map[string]string
		progress    bool
	)
	cmd := &cobra.Command{
		Use:   "upload FILE KEY",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}

			req := uploadtypes.UploadRequest{
				Key:         args[1],
				Body:        f,
				Size:        info.Size(),
				ContentType: contentType,
				CacheClass:  uploadtypes.CacheClass(cacheClass),
				Metadata:    metadata,
			}
			if progress {
				req.Progress = progressPrinter(cmd.ErrOrStderr())
			}

			res, err := a.client.Upload(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "declared MIME type")
	cmd.Flags().StringVar(&cacheClass, "cache-class", "", "original, derived, document or temporary")
	cmd.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "user metadata (key=value)")
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "print progress to stderr")
	return cmd
}

func progressPrinter(w io.Writer) uploadtypes.ProgressSink {
	return uploadtypes.ProgressFunc(func(s uploadtypes.ProgressSnapshot) {
		fmt.Fprintf(w, "\r%6.2f%% %d/%d bytes", s.Percent, s.BytesTransferred, s.TotalBytes)
		if s.BytesTransferred == s.TotalBytes {
			fmt.Fprintln(w)
		}
	})
}

func newPresignPostCommand(a *app) *cobra.Command {
	var (
		contentType string
		maxSize     int64
		expiry      time.Duration
		keyPrefix   string
	)
	cmd := &cobra.Command{
		Use:   "presign-post KEY",
		Short: "Print the URL and form fields for a browser upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := uploadtypes.PresignedPostRequest{
				Key:         args[0],
				ContentType: contentType,
				MaxSize:     maxSize,
				Expiry:      expiry,
			}
			if keyPrefix != "" {
				req.Conditions = append(req.Conditions, uploadtypes.PolicyCondition{
					Match: "starts-with", Field: "key", Value: keyPrefix,
				})
			}
			post, err := a.client.GeneratePresignedPost(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), post)
		},
	}
	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "required Content-Type field")
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "largest accepted body in bytes (default: object size limit)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "policy lifetime (default: S3UPLOAD_PRESIGN_EXPIRY)")
	cmd.Flags().StringVar(&keyPrefix, "key-prefix", "", "add a starts-with condition on the key")
	return cmd
}

func newPresignGetCommand(a *app) *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "presign-get KEY",
		Short: "Print a presigned download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.client.GenerateDownloadURL(cmd.Context(), args[0], expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.URL)
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "URL lifetime (default: S3UPLOAD_PRESIGN_EXPIRY)")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [PREFIX]",
		Short: "List objects under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for item := range a.client.ListAll(cmd.Context(), prefix) {
				if item.Err != nil {
					_ = tw.Flush()
					return item.Err
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n",
					item.Object.Size, item.Object.LastModified.UTC().Format(time.RFC3339), item.Object.Key)
			}
			return tw.Flush()
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY...",
		Short: "Delete objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.client.Delete(cmd.Context(), args[0])
			}

			res, err := a.client.DeleteBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s %s\n", e.Key, e.Code, e.Message)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d of %d deletes failed", len(res.Errors), len(args))
			}
			return nil
		},
	}
}

func newStatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat KEY",
		Short: "Print the stored metadata of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.client.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), meta)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
