package render

import (
	"context"
	"os"
	"strings"

	"weaver/internal/models"
	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

// ArtifactPrefix is the object key prefix published renders live under.
const ArtifactPrefix = "renders/"

type container struct {
	ext  string
	mime string
}

var containers = map[string]container{
	"h264":   {"mp4", "video/mp4"},
	"h265":   {"mp4", "video/mp4"},
	"vp8":    {"webm", "video/webm"},
	"vp9":    {"webm", "video/webm"},
	"prores": {"mov", "video/quicktime"},
	"gif":    {"gif", "image/gif"},
	"mp3":    {"mp3", "audio/mpeg"},
	"aac":    {"aac", "audio/aac"},
	"wav":    {"wav", "audio/wav"},
}

// ExtFromCodec returns the file extension and content type an encoder
// writes for codec. Unknown codecs fall back to mp4.
func ExtFromCodec(codec string) (ext, mime string) {
	if c, ok := containers[strings.ToLower(codec)]; ok {
		return c.ext, c.mime
	}
	return "mp4", "video/mp4"
}

// ArtifactKey is the object key of a job's published output.
func ArtifactKey(jobID, ext string) string {
	return ArtifactPrefix + jobID + "." + ext
}

type Publisher struct {
	sp ports.StorageProvider
}

func NewPublisher(sp ports.StorageProvider) *Publisher {
	return &Publisher{sp: sp}
}

// Publish uploads the rendered file at path under the job's artifact key.
// An empty file is an error: the engine claimed success without output.
func (p *Publisher) Publish(ctx context.Context, jobID, path, codec string) (models.Artifact, error) {
	const op = "render.Publish"

	st, err := os.Stat(path)
	if err != nil {
		return models.Artifact{}, errors.Wrap(err, op, "stat rendered file")
	}
	if st.Size() <= 0 {
		return models.Artifact{}, errors.New(errors.CodeInternal, "rendered file is empty").WithField("path", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return models.Artifact{}, errors.Wrap(err, op, "open rendered file")
	}
	defer f.Close()

	ext, mime := ExtFromCodec(codec)
	out, err := p.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   ArtifactKey(jobID, ext),
		ContentType: mime,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return models.Artifact{}, errors.Wrap(err, op, "upload to "+p.sp.Provider()+" failed")
	}
	if out.URL == "" {
		return models.Artifact{}, errors.New(errors.CodeInternal, p.sp.Provider()+" returned no url for the artifact")
	}

	size := out.Size
	if size <= 0 {
		size = st.Size()
	}
	return models.Artifact{Key: out.ObjectKey, URL: out.URL, SizeBytes: size}, nil
}
