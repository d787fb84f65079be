/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config names the bucket and credentials an S3Journal writes segments
// to, mirroring storage/persistence-s3.go's S3Factory.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Journal is the S3-backed sibling of FileJournal and CephJournal: S3 has
// no append API either, so a segment's whole accumulated buffer is
// rewritten with PutObject on every Flush, the same "buffer then replace on
// sync" approach storage/persistence-s3.go's S3Logfile uses.
type S3Journal struct {
	cfg    S3Config
	client *s3.Client
	ex     *executor

	mu        sync.Mutex
	segs      []segmentMeta
	expirePos uint64
	writeable bool
	writeBuf  []byte
	curBuf    bytes.Buffer // accumulated bytes of the current segment, resent whole on Flush
	curIdx    uint32

	readIdx    int
	readOffset uint64
	readPos    uint64
	waiter     func(err error)
}

// NewS3 builds the AWS client exactly as S3Storage.ensureOpen does, then
// returns an unrecovered S3Journal scoped under cfg.Prefix.
func NewS3(cfg S3Config) (*S3Journal, error) {
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to load AWS config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return &S3Journal{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...), ex: newExecutor()}, nil
}

func (j *S3Journal) key(name string) string { return j.cfg.Prefix + "/" + name }
func (j *S3Journal) manifestKey() string    { return j.key("manifest.json") }
func (j *S3Journal) segKey(idx uint32) string {
	return j.key(fmt.Sprintf("seg.%08d", idx))
}

func (j *S3Journal) Create(format string, onDone func(err error)) {
	j.mu.Lock()
	j.segs = []segmentMeta{{Index: 0, Start: 0, Len: 0}}
	j.curIdx = 0
	j.curBuf.Reset()
	err := j.saveManifestLocked()
	j.mu.Unlock()
	j.ex.submit(func() { onDone(err) })
}

func (j *S3Journal) Recover(onDone func(err error)) {
	j.mu.Lock()
	var err error
	resp, gerr := j.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(j.cfg.Bucket), Key: aws.String(j.manifestKey()),
	})
	if gerr != nil {
		err = fmt.Errorf("journal: no s3 manifest to recover: %w", gerr)
	} else {
		defer resp.Body.Close()
		raw, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			err = rerr
		} else {
			var m manifest
			if uerr := json.Unmarshal(raw, &m); uerr != nil {
				err = uerr
			} else {
				j.segs = m.Segments
				j.expirePos = m.ExpirePos
				sort.Slice(j.segs, func(a, b int) bool { return j.segs[a].Start < j.segs[b].Start })
				j.readPos = j.expirePos
				j.readIdx, j.readOffset = locateIn(j.segs, j.expirePos)
				last := j.segs[len(j.segs)-1]
				j.curIdx = last.Index
				if body, berr := j.getObjectBytes(j.segKey(j.curIdx)); berr == nil {
					j.curBuf.Reset()
					j.curBuf.Write(body)
				}
			}
		}
	}
	j.mu.Unlock()
	j.ex.submit(func() { onDone(err) })
}

func (j *S3Journal) getObjectBytes(key string) ([]byte, error) {
	resp, err := j.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(j.cfg.Bucket), Key: aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (j *S3Journal) saveManifestLocked() error {
	raw, err := json.Marshal(manifest{Segments: j.segs, ExpirePos: j.expirePos})
	if err != nil {
		return err
	}
	_, err = j.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(j.cfg.Bucket), Key: aws.String(j.manifestKey()), Body: bytes.NewReader(raw),
	})
	return err
}

func (j *S3Journal) SetWriteable() {
	j.mu.Lock()
	j.writeable = true
	j.mu.Unlock()
}

func (j *S3Journal) IsWriteable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeable
}

func (j *S3Journal) IsReadable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isReadableLocked()
}

func (j *S3Journal) isReadableLocked() bool {
	if j.readIdx >= len(j.segs) {
		return false
	}
	if j.readOffset < j.segs[j.readIdx].Len {
		return true
	}
	for i := j.readIdx + 1; i < len(j.segs); i++ {
		if j.segs[i].Len > 0 {
			return true
		}
	}
	return false
}

func (j *S3Journal) AppendEntry(entry []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(entry)))
	j.writeBuf = append(j.writeBuf, hdr[:]...)
	j.writeBuf = append(j.writeBuf, entry...)
}

func (j *S3Journal) Flush(onDone func(err error)) {
	j.mu.Lock()
	err := j.flushLocked()
	waiter, wakeErr := j.maybeWakeWaiterLocked(err)
	j.mu.Unlock()
	j.ex.submit(func() {
		onDone(err)
		if waiter != nil {
			waiter(wakeErr)
		}
	})
}

const s3MaxSegBytes = 64 * 1024 * 1024

func (j *S3Journal) flushLocked() error {
	if len(j.writeBuf) == 0 {
		return nil
	}
	cur := &j.segs[len(j.segs)-1]
	if uint64(j.curBuf.Len()+len(j.writeBuf)) > s3MaxSegBytes && j.curBuf.Len() > 0 {
		next := segmentMeta{Index: j.curIdx + 1, Start: cur.Start + cur.Len, Len: 0}
		j.segs = append(j.segs, next)
		j.curIdx = next.Index
		j.curBuf.Reset()
		cur = &j.segs[len(j.segs)-1]
	}
	j.curBuf.Write(j.writeBuf)
	_, err := j.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(j.cfg.Bucket), Key: aws.String(j.segKey(j.curIdx)), Body: bytes.NewReader(j.curBuf.Bytes()),
	})
	if err != nil {
		return err
	}
	cur.Len += uint64(len(j.writeBuf))
	j.writeBuf = j.writeBuf[:0]
	return j.saveManifestLocked()
}

func (j *S3Journal) maybeWakeWaiterLocked(flushErr error) (func(err error), error) {
	if j.waiter == nil {
		return nil, nil
	}
	if flushErr != nil {
		w := j.waiter
		j.waiter = nil
		return w, flushErr
	}
	if !j.isReadableLocked() {
		return nil, nil
	}
	w := j.waiter
	j.waiter = nil
	return w, nil
}

func (j *S3Journal) HaveWaiter() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.waiter != nil
}

func (j *S3Journal) WaitForReadable(onDone func(err error)) {
	j.mu.Lock()
	if j.isReadableLocked() {
		j.mu.Unlock()
		j.ex.submit(func() { onDone(nil) })
		return
	}
	j.waiter = onDone
	j.mu.Unlock()
}

func (j *S3Journal) TryReadEntry() ([]byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for j.readIdx < len(j.segs) && j.readOffset >= j.segs[j.readIdx].Len {
		j.readIdx++
		j.readOffset = 0
	}
	if j.readIdx >= len(j.segs) {
		return nil, false
	}
	s := j.segs[j.readIdx]
	var body []byte
	if s.Index == j.curIdx {
		body = j.curBuf.Bytes()
	} else {
		b, err := j.getObjectBytes(j.segKey(s.Index))
		if err != nil {
			return nil, false
		}
		body = b
	}
	if j.readOffset+4 > uint64(len(body)) {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(body[j.readOffset : j.readOffset+4])
	start := j.readOffset + 4
	if start+uint64(n) > uint64(len(body)) {
		return nil, false
	}
	payload := append([]byte(nil), body[start:start+uint64(n)]...)
	j.readOffset += 4 + uint64(n)
	j.readPos = s.Start + j.readOffset
	return payload, true
}

func (j *S3Journal) GetReadPos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readPos
}

func (j *S3Journal) SetExpirePos(pos uint64) {
	j.mu.Lock()
	j.expirePos = pos
	j.mu.Unlock()
}

func (j *S3Journal) Trim() {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.segs[:0:0]
	for _, s := range j.segs {
		if s.Start+s.Len <= j.expirePos && s.Index != j.curIdx {
			_, _ = j.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
				Bucket: aws.String(j.cfg.Bucket), Key: aws.String(j.segKey(s.Index)),
			})
			continue
		}
		kept = append(kept, s)
	}
	j.segs = kept
	_ = j.saveManifestLocked()
}

func (j *S3Journal) Shutdown() {
	j.ex.stop()
}
