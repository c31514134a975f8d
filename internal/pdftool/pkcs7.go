package pdftool

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"software.sslmate.com/src/go-pkcs12"

	"bitgremlin/internal/pipeline"
)

const (
	// signatureLength is the space reserved for the DER signature, in bytes.
	signatureLength   = 8192
	signatureReason   = "Digitally signed by BitGremlin"
	signatureLocation = "Online"

	byteRangeSentinel = 9999999999
)

var (
	contentsPlaceholder  = []byte("<" + strings.Repeat("0", 2*signatureLength) + ">")
	byteRangePlaceholder = []byte(fmt.Sprintf("[0 %d %d %d]", byteRangeSentinel, byteRangeSentinel, byteRangeSentinel))
)

// Signer holds the key and certificates of a PKCS#12 bundle.
type Signer struct {
	key   crypto.PrivateKey
	cert  *x509.Certificate
	chain []*x509.Certificate
}

// LoadSigner decodes a PKCS#12 bundle.
func LoadSigner(p12 []byte, passphrase string) (*Signer, error) {
	key, cert, chain, err := pkcs12.DecodeChain(p12, passphrase)
	if err != nil {
		return nil, pipeline.InputRejected(err, "could not read certificate")
	}
	return &Signer{key: key, cert: cert, chain: chain}, nil
}

// SignFile writes in to out with a signature field on page covering rect, then
// fills the field with a detached PKCS#7 signature over every byte outside it.
func (s *Signer) SignFile(in, out string, page int, rect [4]float64) error {
	ctx, err := api.ReadContextFile(in)
	if err != nil {
		return pipeline.InputRejected(err, "could not open PDF")
	}
	if ctx.Encrypt != nil {
		return pipeline.InputRejected(nil, "cannot sign an encrypted PDF")
	}
	if err := addSignatureField(ctx, page, rect, time.Now()); err != nil {
		return fmt.Errorf("add signature field: %w", err)
	}

	// placeholders must stay byte-addressable in the written file
	ctx.WriteObjectStream = false
	ctx.WriteXRefStream = false
	if err := api.WriteContextFile(ctx, out); err != nil {
		return fmt.Errorf("write signature placeholder: %w", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return err
	}
	if err := s.embed(data); err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o600)
}

func addSignatureField(ctx *model.Context, page int, rect [4]float64, now time.Time) error {
	xrt := ctx.XRefTable

	sigRef, err := xrt.IndRefForNewObject(types.Dict{
		"Type":      types.Name("Sig"),
		"Filter":    types.Name("Adobe.PPKLite"),
		"SubFilter": types.Name("adbe.pkcs7.detached"),
		"ByteRange": types.NewIntegerArray(0, byteRangeSentinel, byteRangeSentinel, byteRangeSentinel),
		"Contents":  types.HexLiteral(strings.Repeat("0", 2*signatureLength)),
		"Reason":    types.StringLiteral(signatureReason),
		"Location":  types.StringLiteral(signatureLocation),
		"M":         types.StringLiteral(types.DateString(now)),
	})
	if err != nil {
		return err
	}

	pageDict, pageRef, _, err := xrt.PageDict(page, false)
	if err != nil {
		return err
	}
	root, err := xrt.Catalog()
	if err != nil {
		return err
	}
	form, err := xrt.DereferenceDict(root["AcroForm"])
	if err != nil {
		return err
	}
	if form == nil {
		form = types.Dict{}
	}
	fields, err := xrt.DereferenceArray(form["Fields"])
	if err != nil {
		return err
	}

	widgetRef, err := xrt.IndRefForNewObject(types.Dict{
		"Type":    types.Name("Annot"),
		"Subtype": types.Name("Widget"),
		"FT":      types.Name("Sig"),
		"T":       types.StringLiteral(fmt.Sprintf("Signature%d", len(fields)+1)),
		"V":       *sigRef,
		"Rect":    types.NewNumberArray(rect[0], rect[1], rect[2], rect[3]),
		"F":       types.Integer(132), // print, locked
		"P":       *pageRef,
	})
	if err != nil {
		return err
	}

	annots, err := xrt.DereferenceArray(pageDict["Annots"])
	if err != nil {
		return err
	}
	pageDict["Annots"] = append(annots, *widgetRef)

	form["Fields"] = append(fields, *widgetRef)
	form["SigFlags"] = types.Integer(3)
	root["AcroForm"] = form
	return nil
}

// embed patches the byte range and signature into data in place.
func (s *Signer) embed(data []byte) error {
	start := bytes.Index(data, contentsPlaceholder)
	br := bytes.Index(data, byteRangePlaceholder)
	if start < 0 || br < 0 {
		return errors.New("signature placeholder not found in written PDF")
	}
	end := start + len(contentsPlaceholder)

	byteRange := fmt.Sprintf("[0 %d %d %d", start, end, len(data)-end)
	byteRange += strings.Repeat(" ", len(byteRangePlaceholder)-len(byteRange)-1) + "]"
	copy(data[br:], byteRange)

	signed := make([]byte, 0, len(data)-(end-start))
	signed = append(signed, data[:start]...)
	signed = append(signed, data[end:]...)
	der, err := s.sign(signed)
	if err != nil {
		return fmt.Errorf("pkcs7 sign: %w", err)
	}
	if len(der) > signatureLength {
		return fmt.Errorf("signature of %d bytes exceeds the reserved %d", len(der), signatureLength)
	}
	copy(data[start+1:], hex.EncodeToString(der))
	return nil
}

func (s *Signer) sign(content []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, err
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(s.cert, s.key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}
	for _, c := range s.chain {
		sd.AddCertificate(c)
	}
	sd.Detach()
	return sd.Finish()
}
