package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"log/slog"

	"github.com/spf13/cobra"

	"mediad/internal/server/auth"
	"mediad/internal/server/config"
	"mediad/internal/server/database"
	"mediad/internal/server/service"
	"mediad/internal/server/upload"
)

func newSeedCmd(configPath *string) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo blog post, project, and media",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if token == "" {
				token = cfg.AdminToken
			}
			if token == "" {
				return fmt.Errorf("an admin token is required to seed (set ADMIN_TOKEN or pass --token)")
			}

			ctx := auth.WithToken(context.Background(), token)

			db, err := database.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := db.RunMigrations(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			repo := database.NewRepository(db)
			gate := auth.NewGate(cfg.AdminToken)
			svc := service.NewMediaService(repo, gate)

			post, err := svc.CreateBlogPost(ctx, "hello-world", "Hello World")
			if err != nil {
				return err
			}
			project, err := svc.CreateProject(ctx, "portfolio-site", "Portfolio Site")
			if err != nil {
				return err
			}
			slog.Info("seeded entities", "blog_post_id", post.ID, "project_id", project.ID)

			files, err := demoMedia()
			if err != nil {
				return err
			}
			for i, f := range files {
				record, created, err := svc.Upload(ctx, f, "seed-media")
				if err != nil {
					return fmt.Errorf("failed to seed %s: %w", f.Filename, err)
				}
				slog.Info("seeded media",
					"id", record.ID,
					"filename", record.Filename,
					"created", created,
				)

				if err := svc.AttachToBlogPost(ctx, post.ID, record.ID); err != nil {
					return err
				}
				if err := svc.AttachToProject(ctx, project.ID, record.ID); err != nil {
					return err
				}
				if i == 0 {
					if err := svc.SetBlogPostCover(ctx, post.ID, &record.ID); err != nil {
						return err
					}
					if err := svc.SetProjectCover(ctx, project.ID, &record.ID); err != nil {
						return err
					}
				}
			}

			slog.Info("seed complete", "files", len(files))
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "admin bearer token (defaults to ADMIN_TOKEN)")
	return cmd
}

// demoMedia renders small placeholder images so the seed needs no bundled
// binary assets.
func demoMedia() ([]*upload.File, error) {
	cover, err := encodePNG(color.RGBA{R: 0x1f, G: 0x6f, B: 0xeb, A: 0xff})
	if err != nil {
		return nil, err
	}
	gallery, err := encodeGIF(color.RGBA{R: 0xe8, G: 0x5d, B: 0x2f, A: 0xff})
	if err != nil {
		return nil, err
	}

	return []*upload.File{
		{Filename: "cover.png", MimeType: "image/png", Data: cover, Size: int64(len(cover))},
		{Filename: "gallery.gif", MimeType: "image/gif", Data: gallery, Size: int64(len(gallery))},
	}, nil
}

func encodePNG(c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fill(img, c)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeGIF(c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fill(img, c)
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fill(img *image.RGBA, c color.RGBA) {
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}
