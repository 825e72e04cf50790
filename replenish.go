package wren

// validatePreKeys checks the backend's supply of single-use prekeys and
// uploads a fresh batch when it drops below the configured floor. The next
// membership size is a hint for diagnostics, not a precise trigger;
// over-replenishing is safe. Failures degrade future reachability but must
// not block handling of the current event, so they are logged and swallowed.
func (c *Client) validatePreKeys(nextSize int) {
	count, err := c.backend.AvailablePreKeyCount()
	if err != nil {
		c.log.Warnf("unable to count available prekeys: %v", err)
		return
	}
	if count >= c.config.PrekeyFloor {
		return
	}
	c.log.Debugf("prekeys low (%d < %d, membership growing to %d), minting %d", count, c.config.PrekeyFloor, nextSize, c.config.PrekeyFloor)
	keys, err := c.session.NewPreKeys(c.config.PrekeyFloor)
	if err != nil {
		c.log.Warnf("unable to mint prekeys: %v", err)
		return
	}
	if err := c.backend.UploadPreKeys(keys); err != nil {
		c.log.Warnf("unable to upload prekeys: %v", err)
	}
}

// checkKeyPackages replenishes the group protocol's key package supply when
// it drops below the configured threshold, generating exactly the configured
// batch and publishing it in one request.
func (c *Client) checkKeyPackages() {
	count, err := c.group.ValidKeyPackageCount()
	if err != nil {
		c.log.Warnf("unable to count key packages: %v", err)
		return
	}
	if count >= c.config.KeyPackageMinCount {
		return
	}
	c.log.Debugf("key packages low (%d < %d), generating %d", count, c.config.KeyPackageMinCount, c.config.KeyPackageReplenishCount)
	packages, err := c.group.GenerateKeyPackages(c.config.KeyPackageReplenishCount)
	if err != nil {
		c.log.Warnf("unable to generate key packages: %v", err)
		return
	}
	if err := c.backend.UploadKeyPackages(packages); err != nil {
		c.log.Warnf("unable to upload key packages: %v", err)
	}
}
