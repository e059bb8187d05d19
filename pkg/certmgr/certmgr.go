// Package certmgr wires the certificate engine (spec.md §4.H) into the
// build pipeline: it watches the CA's fingerprint for rotation, mints and
// renews per-host and per-job leaves, and archives the issued material to
// the KV store (component A) so later runs can reconstitute it without
// re-invoking the CA.
package certmgr

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/maand-sh/maand/pkg/log"
	"github.com/maand-sh/maand/pkg/metrics"
	"github.com/maand-sh/maand/pkg/security"
	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
)

// renewDays is the "within 15 days of expiry" renewal trigger (spec.md
// §4.H).
const renewDays = 15

// hostCertTTL is the fixed TTL spec.md §4.H gives host identity certs,
// independent of the configurable certs_ttl used for job certs.
const hostCertTTL = 60 * 24 * time.Hour

// Result summarizes one certificate-engine pass.
type Result struct {
	CARotated      bool
	HostCertsIssued int
	JobCertsIssued  int
}

// Run mints or renews every host identity cert and every job-declared cert
// for each (host, job) allocation, per spec.md §4.H. allocations is used
// only to determine which (host, job) pairs need job certs; disabled or
// removed allocations still get certs, since a cert must exist before the
// orchestrator can stage it.
func Run(tx storage.Tx, bucket *types.Bucket, hosts []*types.Host, jobs []*types.Job, allocations []*types.Allocation, certsTTLDays int) (*Result, error) {
	logger := log.WithComponent("certmgr")

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(bucket.BucketID)); err != nil {
		return nil, fmt.Errorf("derive cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(tx)
	if _, _, err := ca.LoadOrInit(bucket.BucketID); err != nil {
		return nil, fmt.Errorf("load or init CA: %w", err)
	}

	caMD5 := md5.Sum(ca.RootCACert())
	caHash := hex.EncodeToString(caMD5[:])
	rotated := bucket.CAMD5Hash != "" && bucket.CAMD5Hash != caHash
	if rotated {
		logger.Warn().Msg("CA fingerprint changed, forcing leaf renewal")
	}
	bucket.CAMD5Hash = caHash
	if err := tx.SaveBucket(bucket); err != nil {
		return nil, fmt.Errorf("save bucket CA hash: %w", err)
	}

	result := &Result{CARotated: rotated}
	caFingerprint := ca.Fingerprint()

	for _, h := range hosts {
		issued, err := issueHostCert(tx, ca, bucket, h, rotated, caFingerprint)
		if err != nil {
			return nil, err
		}
		if issued {
			result.HostCertsIssued++
		}
	}

	jobsByName := map[string]*types.Job{}
	for _, j := range jobs {
		jobsByName[j.Name] = j
	}
	ttl := time.Duration(certsTTLDays) * 24 * time.Hour
	if certsTTLDays <= 0 {
		ttl = time.Duration(types.DefaultCertsTTLDays) * 24 * time.Hour
	}

	seen := map[string]bool{}
	for _, a := range allocations {
		key := a.HostIP + "/" + a.Job
		if seen[key] {
			continue
		}
		seen[key] = true
		job, ok := jobsByName[a.Job]
		if !ok || len(job.Certs) == 0 {
			continue
		}
		for _, c := range job.Certs {
			issued, err := issueJobCert(tx, ca, a.HostIP, job, c, ttl, rotated, caFingerprint)
			if err != nil {
				return nil, err
			}
			if issued {
				result.JobCertsIssued++
			}
		}
	}

	return result, nil
}

type archivedMeta struct {
	notAfter      time.Time
	caFingerprint string
}

func issueHostCert(tx storage.Tx, ca *security.CertAuthority, bucket *types.Bucket, h *types.Host, forceRenew bool, caFingerprint string) (bool, error) {
	ns := "maand/certs/host/" + h.HostIP
	meta, ok, err := loadMeta(tx, ns, "host")
	if err != nil {
		return false, err
	}
	if ok && !forceRenew && !security.NeedsRenewal(meta.notAfter, meta.caFingerprint, caFingerprint, renewDays) {
		return false, nil
	}

	san := fmt.Sprintf("DNS:localhost,IP:127.0.0.1,IP:%s", h.HostIP)
	leaf, err := ca.IssueLeaf("/CN="+bucket.BucketID, san, false, hostCertTTL)
	if err != nil {
		return false, fmt.Errorf("issue host cert for %s: %w", h.HostIP, err)
	}
	if err := archiveLeaf(tx, ns, "host", leaf, ca.RootCACert()); err != nil {
		return false, err
	}
	reason := "new"
	if ok {
		reason = "renewed"
	}
	if forceRenew {
		reason = "ca_rotated"
	}
	metrics.CertificatesIssuedTotal.WithLabelValues("host", reason).Inc()
	return true, nil
}

func issueJobCert(tx storage.Tx, ca *security.CertAuthority, hostIP string, job *types.Job, c types.JobCert, ttl time.Duration, forceRenew bool, caFingerprint string) (bool, error) {
	ns := fmt.Sprintf("maand/certs/job/%s/%s/certs", hostIP, job.Name)
	meta, ok, err := loadMeta(tx, ns, c.Name)
	if err != nil {
		return false, err
	}
	if ok && !forceRenew && !security.NeedsRenewal(meta.notAfter, meta.caFingerprint, caFingerprint, renewDays) {
		return false, nil
	}

	subjectAltName := c.SubjectAltName
	if subjectAltName == "" {
		subjectAltName = hostIP
	}
	leaf, err := ca.IssueLeaf(c.Subject, subjectAltName, c.PKCS8, ttl)
	if err != nil {
		return false, fmt.Errorf("issue job cert %s/%s/%s: %w", hostIP, job.Name, c.Name, err)
	}
	if err := archiveLeaf(tx, ns, c.Name, leaf, ca.RootCACert()); err != nil {
		return false, err
	}
	reason := "new"
	if ok {
		reason = "renewed"
	}
	if forceRenew {
		reason = "ca_rotated"
	}
	metrics.CertificatesIssuedTotal.WithLabelValues("job", reason).Inc()
	return true, nil
}

func archiveLeaf(tx storage.Tx, ns, name string, leaf *security.IssuedCert, caCertDER []byte) error {
	caPEM := security.EncodeCertPEM(caCertDER)
	entries := map[string]string{
		name + ".crt":            base64.StdEncoding.EncodeToString(leaf.CertPEM),
		name + ".key":            base64.StdEncoding.EncodeToString(leaf.KeyPEM),
		name + ".ca":             base64.StdEncoding.EncodeToString(caPEM),
		name + ".not_after":      strconv.FormatInt(leaf.NotAfter.Unix(), 10),
		name + ".ca_fingerprint": leaf.CAFingerprint,
	}
	for k, v := range entries {
		if err := tx.Put(ns, k, v, 0); err != nil {
			return fmt.Errorf("archive %s/%s: %w", ns, k, err)
		}
	}
	return nil
}

func loadMeta(tx storage.Tx, ns, name string) (archivedMeta, bool, error) {
	rawNotAfter, ok, err := tx.Get(ns, name+".not_after")
	if err != nil {
		return archivedMeta{}, false, fmt.Errorf("load %s/%s.not_after: %w", ns, name, err)
	}
	if !ok {
		return archivedMeta{}, false, nil
	}
	notAfterUnix, err := strconv.ParseInt(rawNotAfter, 10, 64)
	if err != nil {
		return archivedMeta{}, false, fmt.Errorf("parse %s/%s.not_after: %w", ns, name, err)
	}
	fingerprint, _, err := tx.Get(ns, name+".ca_fingerprint")
	if err != nil {
		return archivedMeta{}, false, fmt.Errorf("load %s/%s.ca_fingerprint: %w", ns, name, err)
	}
	return archivedMeta{notAfter: time.Unix(notAfterUnix, 0), caFingerprint: fingerprint}, true, nil
}

// RestoreHostCert reconstitutes a previously archived host cert/key/ca
// trio from the KV store, byte-for-byte (spec.md §8 round-trip property).
func RestoreHostCert(tx storage.Tx, hostIP string) (certPEM, keyPEM, caPEM []byte, ok bool, err error) {
	return restoreLeaf(tx, "maand/certs/host/"+hostIP, "host")
}

// RestoreJobCert reconstitutes a previously archived job cert/key/ca trio.
func RestoreJobCert(tx storage.Tx, hostIP, job, name string) (certPEM, keyPEM, caPEM []byte, ok bool, err error) {
	return restoreLeaf(tx, fmt.Sprintf("maand/certs/job/%s/%s/certs", hostIP, job), name)
}

func restoreLeaf(tx storage.Tx, ns, name string) (certPEM, keyPEM, caPEM []byte, ok bool, err error) {
	cert, certOK, err := tx.Get(ns, name+".crt")
	if err != nil || !certOK {
		return nil, nil, nil, false, err
	}
	key, _, err := tx.Get(ns, name+".key")
	if err != nil {
		return nil, nil, nil, false, err
	}
	ca, _, err := tx.Get(ns, name+".ca")
	if err != nil {
		return nil, nil, nil, false, err
	}
	certPEM, err = base64.StdEncoding.DecodeString(cert)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("decode %s/%s.crt: %w", ns, name, err)
	}
	keyPEM, err = base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("decode %s/%s.key: %w", ns, name, err)
	}
	caPEM, err = base64.StdEncoding.DecodeString(ca)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("decode %s/%s.ca: %w", ns, name, err)
	}
	return certPEM, keyPEM, caPEM, true, nil
}
