package ingest

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = filepath.Join(GinkgoT().TempDir(), "archive")
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		Expect(tmpDir).To(BeADirectory())
	})

	Describe("Save", func() {
		It("writes the file and returns its name", func() {
			name, err := storage.Save(ctx, "a.pdf", []byte("content"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("a.pdf"))
			Expect(filepath.Join(tmpDir, "a.pdf")).To(BeAnExistingFile())
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(tmpDir, "b.pdf"), []byte("stored"), 0644)).To(Succeed())
			})

			It("returns its content", func() {
				data, err := storage.Get(ctx, "b.pdf")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("stored")))
			})
		})

		When("the file does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get(ctx, "missing.pdf")
				Expect(err).To(MatchError(ContainSubstring("reading file")))
			})
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			_, err := storage.Save(ctx, "c.pdf", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete(ctx, "c.pdf")).To(Succeed())
			Expect(filepath.Join(tmpDir, "c.pdf")).NotTo(BeAnExistingFile())
		})

		It("fails for a missing file", func() {
			Expect(storage.Delete(ctx, "nope.pdf")).To(MatchError(ContainSubstring("deleting file")))
		})
	})
})
