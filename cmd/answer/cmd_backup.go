// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAnswer/cmd/answer/gcs"
	"github.com/AleutianAI/AleutianAnswer/pkg/ux"
	"github.com/AleutianAI/AleutianAnswer/services/index"
)

type backupOptions struct {
	indexPath   string
	out         string
	bucket      string
	object      string
	credentials string
}

func newBackupCmd(g *globalFlags) *cobra.Command {
	o := &backupOptions{}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the file index to a file or a GCS bucket",
		Long: `Write a full badger backup of the file index.

  answer backup --out index.bak
  answer backup --gcs-bucket my-bucket --gcs-credentials sa.json

The service must not be running against the same --index-path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackup(cmd.Context(), o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.indexPath, "index-path", getEnvString("ANSWER_INDEX_PATH", defaultIndexPath()), "Badger index directory")
	f.StringVarP(&o.out, "out", "o", "", "Write the backup to this file")
	f.StringVar(&o.bucket, "gcs-bucket", os.Getenv("ANSWER_BACKUP_BUCKET"), "Upload the backup to this GCS bucket")
	f.StringVar(&o.object, "gcs-object", "", "GCS object name (default: index-<timestamp>.bak)")
	f.StringVar(&o.credentials, "gcs-credentials", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), "Service account key file")

	cmd.AddCommand(newRestoreCmd())
	return cmd
}

func runBackup(ctx context.Context, o *backupOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if (o.out == "") == (o.bucket == "") {
		return errors.New("exactly one of --out or --gcs-bucket is required")
	}

	files, err := index.Open(index.DefaultConfig(o.indexPath))
	if err != nil {
		return err
	}
	defer files.Close()

	out := ux.Std
	if o.out != "" {
		var written uint64
		err := out.WithSpinner("Writing "+o.out, func() error {
			written, err = backupToFile(files, o.out)
			return err
		})
		if err != nil {
			return err
		}
		out.Success(fmt.Sprintf("Backup written to %s (version %d)", o.out, written))
		return nil
	}

	client, err := gcs.NewClient(ctx, o.bucket, o.credentials)
	if err != nil {
		return err
	}
	defer client.Close()

	object := o.object
	if object == "" {
		object = fmt.Sprintf("index-%s.bak", time.Now().UTC().Format("20060102T150405Z"))
	}
	var size int64
	err = out.WithSpinner("Uploading gs://"+o.bucket+"/"+object, func() error {
		size, err = uploadBackup(ctx, files, client, object)
		return err
	})
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Uploaded %d bytes to gs://%s/%s", size, o.bucket, object))
	return nil
}

func backupToFile(files *index.BadgerFileIndex, path string) (uint64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	version, err := files.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("backup index: %w", err)
	}
	return version, nil
}

type uploader interface {
	Upload(ctx context.Context, r io.Reader, object string) (int64, error)
}

// uploadBackup streams the backup straight into the object without
// staging it on disk.
//
// The backup goroutine has always finished when this returns, so the
// caller may close files right away.
func uploadBackup(ctx context.Context, files *index.BadgerFileIndex, up uploader, object string) (int64, error) {
	pr, pw := io.Pipe()
	backupErr := make(chan error, 1)
	go func() {
		_, err := files.Backup(pw)
		pw.CloseWithError(err)
		backupErr <- err
	}()

	n, err := up.Upload(ctx, pr, object)
	if err != nil {
		pr.CloseWithError(err)
	} else {
		// Unblocks the writer if the uploader stopped reading early.
		pr.CloseWithError(io.ErrClosedPipe)
	}
	berr := <-backupErr

	if err != nil {
		return 0, fmt.Errorf("upload backup: %w", err)
	}
	if berr != nil {
		return 0, fmt.Errorf("backup index: %w", berr)
	}
	return n, nil
}

func newRestoreCmd() *cobra.Command {
	var indexPath string
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Load a backup into the file index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			files, err := index.Open(index.DefaultConfig(indexPath))
			if err != nil {
				return err
			}
			defer files.Close()

			if err := files.Restore(f); err != nil {
				return fmt.Errorf("restore index: %w", err)
			}
			ux.Std.Success("Restored " + args[0] + " into " + indexPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&indexPath, "index-path", getEnvString("ANSWER_INDEX_PATH", defaultIndexPath()), "Badger index directory")
	return cmd
}
